package state

import (
	"sync"
	"time"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

// BlockPatch is a partial update to a block. Nil fields are left untouched.
type BlockPatch struct {
	Content chat.BlockContent
	Status  *chat.BlockStatus
}

// BlockStore keeps every known block keyed by id. Safe for concurrent use.
type BlockStore struct {
	mu       sync.RWMutex
	blocks   map[chat.BlockID]*chat.MessageBlock
	notifier Notifier
}

func NewBlockStore(notifier Notifier) *BlockStore {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &BlockStore{
		blocks:   make(map[chat.BlockID]*chat.MessageBlock),
		notifier: notifier,
	}
}

// Upsert inserts or fully replaces a block.
func (s *BlockStore) Upsert(block *chat.MessageBlock) error {
	if block == nil {
		return errors.New("nil block")
	}
	if block.ID == "" {
		return errors.New("block has no id")
	}

	stored := clone.Clone(block).(*chat.MessageBlock)

	s.mu.Lock()
	s.blocks[stored.ID] = stored
	s.mu.Unlock()

	s.notifier.BlockChanged(clone.Clone(stored).(*chat.MessageBlock))
	return nil
}

// Get returns a copy of the block, so callers can't mutate stored state.
func (s *BlockStore) Get(id chat.BlockID) (*chat.MessageBlock, error) {
	s.mu.RLock()
	block, ok := s.blocks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown block %s", id)
	}
	return clone.Clone(block).(*chat.MessageBlock), nil
}

// GetMany returns copies of the requested blocks in the requested order.
// Every id must exist.
func (s *BlockStore) GetMany(ids []chat.BlockID) ([]*chat.MessageBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*chat.MessageBlock, 0, len(ids))
	for _, id := range ids {
		block, ok := s.blocks[id]
		if !ok {
			return nil, errors.Errorf("unknown block %s", id)
		}
		result = append(result, clone.Clone(block).(*chat.MessageBlock))
	}
	return result, nil
}

// UpdateFields applies a partial update to an existing block. Updating an
// unknown block is an error, never an implicit insert.
func (s *BlockStore) UpdateFields(id chat.BlockID, patch BlockPatch) (*chat.MessageBlock, error) {
	s.mu.Lock()
	block, ok := s.blocks[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.Errorf("unknown block %s", id)
	}
	if patch.Content != nil {
		if patch.Content.BlockType() != block.Content.BlockType() {
			s.mu.Unlock()
			return nil, errors.Errorf(
				"block %s content type mismatch: have %s, patch %s",
				id, block.Content.BlockType(), patch.Content.BlockType(),
			)
		}
		block.Content = clone.Clone(patch.Content).(chat.BlockContent)
	}
	if patch.Status != nil {
		block.Status = *patch.Status
	}
	block.UpdatedAt = time.Now()
	updated := clone.Clone(block).(*chat.MessageBlock)
	s.mu.Unlock()

	s.notifier.BlockChanged(clone.Clone(updated).(*chat.MessageBlock))
	return updated, nil
}

// Remove deletes blocks from the store. Unknown ids are ignored.
func (s *BlockStore) Remove(ids ...chat.BlockID) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.blocks, id)
	}
	s.mu.Unlock()
}

// Len reports the number of stored blocks.
func (s *BlockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}
