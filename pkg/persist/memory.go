package persist

import (
	"context"
	"sync"
	"time"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

// MemStore is an in-memory Store used in tests and as a scratch backend. It
// counts writes and can be told to fail, so tests can observe throttling and
// retry behavior.
type MemStore struct {
	mu       sync.Mutex
	topics   map[chat.TopicID]*chat.Topic
	blocks   map[chat.BlockID]*chat.MessageBlock
	order    []chat.TopicID
	created  map[chat.TopicID]time.Time
	failWith error

	messageWrites int
	blockWrites   int
}

func NewMemStore() *MemStore {
	return &MemStore{
		topics:  make(map[chat.TopicID]*chat.Topic),
		blocks:  make(map[chat.BlockID]*chat.MessageBlock),
		created: make(map[chat.TopicID]time.Time),
	}
}

// FailWith makes every subsequent write fail with err. Pass nil to heal.
func (s *MemStore) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

// MessageWrites reports how many ReplaceTopicMessages calls succeeded.
func (s *MemStore) MessageWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageWrites
}

// BlockWrites reports how many BulkUpsertBlocks calls succeeded.
func (s *MemStore) BlockWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockWrites
}

func (s *MemStore) CreateTopic(_ context.Context, id chat.TopicID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.topics[id]; ok {
		return errors.Errorf("topic %s already exists", id)
	}
	s.topics[id] = &chat.Topic{ID: id, Name: name, Messages: []*chat.Message{}}
	s.created[id] = time.Now()
	s.order = append(s.order, id)
	return nil
}

func (s *MemStore) GetTopic(_ context.Context, id chat.TopicID) (*chat.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topics[id]
	if !ok {
		return nil, errors.Errorf("unknown topic %s", id)
	}
	return clone.Clone(topic).(*chat.Topic), nil
}

func (s *MemStore) ListTopics(_ context.Context) ([]TopicInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]TopicInfo, 0, len(s.order))
	for _, id := range s.order {
		topics = append(topics, TopicInfo{
			ID:        id,
			Name:      s.topics[id].Name,
			CreatedAt: s.created[id],
		})
	}
	return topics, nil
}

func (s *MemStore) ReplaceTopicMessages(_ context.Context, id chat.TopicID, messages []*chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	topic, ok := s.topics[id]
	if !ok {
		return errors.Errorf("unknown topic %s", id)
	}
	topic.Messages = clone.Clone(messages).([]*chat.Message)
	s.messageWrites++
	return nil
}

func (s *MemStore) BulkUpsertBlocks(_ context.Context, blocks []*chat.MessageBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	for _, block := range blocks {
		s.blocks[block.ID] = clone.Clone(block).(*chat.MessageBlock)
	}
	if len(blocks) > 0 {
		s.blockWrites++
	}
	return nil
}

func (s *MemStore) GetBlocks(_ context.Context, ids []chat.BlockID) ([]*chat.MessageBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks := make([]*chat.MessageBlock, 0, len(ids))
	for _, id := range ids {
		block, ok := s.blocks[id]
		if !ok {
			return nil, errors.Errorf("unknown block %s", id)
		}
		blocks = append(blocks, clone.Clone(block).(*chat.MessageBlock))
	}
	return blocks, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = &MemStore{}
