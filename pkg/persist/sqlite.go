package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

// SQLiteStore implements Store using a SQLite database.
type SQLiteStore struct{ db *sql.DB }

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS topics (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  messages TEXT NOT NULL DEFAULT '[]',
  created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS message_blocks (
  id TEXT PRIMARY KEY,
  message_id TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  content TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_blocks_message_id ON message_blocks(message_id);
`)
	return errors.Wrap(err, "migrating schema")
}

func (s *SQLiteStore) CreateTopic(ctx context.Context, id chat.TopicID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, name, created_at) VALUES (?, ?, ?)`,
		string(id), name, time.Now().Format(time.RFC3339Nano))
	return errors.Wrapf(err, "creating topic %s", id)
}

func (s *SQLiteStore) GetTopic(ctx context.Context, id chat.TopicID) (*chat.Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, messages FROM topics WHERE id = ?`, string(id))

	var name, messagesJSON string
	switch err := row.Scan(&name, &messagesJSON); err {
	case nil:
	case sql.ErrNoRows:
		return nil, errors.Errorf("unknown topic %s", id)
	default:
		return nil, errors.Wrapf(err, "reading topic %s", id)
	}

	var messages []*chat.Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return nil, errors.Wrapf(err, "decoding messages of topic %s", id)
	}
	return &chat.Topic{ID: id, Name: name, Messages: messages}, nil
}

func (s *SQLiteStore) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM topics ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "listing topics")
	}
	defer func() { _ = rows.Close() }()

	var topics []TopicInfo
	for rows.Next() {
		var info TopicInfo
		var id, createdAt string
		if err := rows.Scan(&id, &info.Name, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning topic row")
		}
		info.ID = chat.TopicID(id)
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		topics = append(topics, info)
	}
	return topics, rows.Err()
}

func (s *SQLiteStore) ReplaceTopicMessages(ctx context.Context, id chat.TopicID, messages []*chat.Message) error {
	if messages == nil {
		messages = []*chat.Message{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return errors.Wrapf(err, "encoding messages of topic %s", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE topics SET messages = ? WHERE id = ?`, string(b), string(id))
	if err != nil {
		return errors.Wrapf(err, "writing messages of topic %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking affected rows")
	}
	if affected == 0 {
		return errors.Errorf("unknown topic %s", id)
	}
	return nil
}

func (s *SQLiteStore) BulkUpsertBlocks(ctx context.Context, blocks []*chat.MessageBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO message_blocks (id, message_id, type, status, content, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  content = excluded.content,
  updated_at = excluded.updated_at`)
	if err != nil {
		return errors.Wrap(err, "preparing upsert")
	}
	defer func() { _ = stmt.Close() }()

	for _, block := range blocks {
		content, err := json.Marshal(block.Content)
		if err != nil {
			return errors.Wrapf(err, "encoding block %s", block.ID)
		}
		_, err = stmt.ExecContext(ctx,
			string(block.ID), string(block.MessageID), string(block.Type()), string(block.Status),
			string(content),
			block.CreatedAt.Format(time.RFC3339Nano), block.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return errors.Wrapf(err, "upserting block %s", block.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "committing block upsert")
}

func (s *SQLiteStore) GetBlocks(ctx context.Context, ids []chat.BlockID) ([]*chat.MessageBlock, error) {
	blocks := make([]*chat.MessageBlock, 0, len(ids))
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx, `
SELECT message_id, type, status, content, created_at, updated_at
FROM message_blocks WHERE id = ?`, string(id))

		var messageID, blockType, status, content, createdAt, updatedAt string
		switch err := row.Scan(&messageID, &blockType, &status, &content, &createdAt, &updatedAt); err {
		case nil:
		case sql.ErrNoRows:
			return nil, errors.Errorf("unknown block %s", id)
		default:
			return nil, errors.Wrapf(err, "reading block %s", id)
		}

		blockContent, err := chat.UnmarshalBlockContent(chat.BlockType(blockType), []byte(content))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding block %s", id)
		}
		block := &chat.MessageBlock{
			ID:        id,
			MessageID: chat.MessageID(messageID),
			Content:   blockContent,
			Status:    chat.BlockStatus(status),
		}
		block.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		block.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = &SQLiteStore{}
