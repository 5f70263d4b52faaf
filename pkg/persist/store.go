// Package persist writes conversation state to durable storage. The stores
// are dumb full-row writers; throttling and coalescing of streaming content
// writes happens in the Gateway on top of them.
package persist

import (
	"context"
	"time"

	"github.com/go-go-golems/parley/pkg/chat"
)

// TopicInfo is a topic row without its messages.
type TopicInfo struct {
	ID        chat.TopicID `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Store is the durable backend for topics, messages and blocks. Messages are
// stored per topic as a single ordered document; blocks are stored
// individually so streaming updates touch one row.
type Store interface {
	CreateTopic(ctx context.Context, id chat.TopicID, name string) error
	GetTopic(ctx context.Context, id chat.TopicID) (*chat.Topic, error)
	ListTopics(ctx context.Context) ([]TopicInfo, error)

	// ReplaceTopicMessages overwrites the topic's message list wholesale.
	ReplaceTopicMessages(ctx context.Context, id chat.TopicID, messages []*chat.Message) error

	// BulkUpsertBlocks inserts or replaces blocks in a single transaction.
	BulkUpsertBlocks(ctx context.Context, blocks []*chat.MessageBlock) error
	GetBlocks(ctx context.Context, ids []chat.BlockID) ([]*chat.MessageBlock, error)

	Close() error
}
