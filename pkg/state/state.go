// Package state holds the in-memory conversation state: every block and
// message currently known to the client, keyed by id. The stores are the
// single source of truth during streaming; persistence trails behind them
// through the persist gateway.
package state

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

// Notifier receives change notifications after a store mutation commits.
// Implementations must not call back into the stores from the notification.
type Notifier interface {
	MessageChanged(msg *chat.Message)
	BlockChanged(block *chat.MessageBlock)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) MessageChanged(*chat.Message)    {}
func (NopNotifier) BlockChanged(*chat.MessageBlock) {}

// State bundles the block and message stores behind a shared notifier.
type State struct {
	Blocks   *BlockStore
	Messages *MessageStore
}

func New(notifier Notifier) *State {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &State{
		Blocks:   NewBlockStore(notifier),
		Messages: NewMessageStore(notifier),
	}
}

// AttachBlock stores the block and appends its id to the message, so a block
// id never appears on a message without a backing block.
func (s *State) AttachBlock(messageID chat.MessageID, block *chat.MessageBlock) error {
	if block == nil {
		return errors.New("nil block")
	}
	if err := s.Blocks.Upsert(block); err != nil {
		return err
	}
	if err := s.Messages.AppendBlockID(messageID, block.ID); err != nil {
		s.Blocks.Remove(block.ID)
		return errors.Wrapf(err, "attaching block %s", block.ID)
	}
	return nil
}

// MessageBlocks resolves a message's block list to the stored blocks, in
// message order.
func (s *State) MessageBlocks(messageID chat.MessageID) ([]*chat.MessageBlock, error) {
	msg, err := s.Messages.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	return s.Blocks.GetMany(msg.BlockIDs)
}
