package state

import (
	"sync"
	"time"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

type topicState struct {
	name  string
	order []chat.MessageID
}

// MessageStore keeps messages grouped by topic, preserving insertion order.
// Safe for concurrent use.
type MessageStore struct {
	mu       sync.RWMutex
	topics   map[chat.TopicID]*topicState
	messages map[chat.MessageID]*chat.Message
	notifier Notifier
}

func NewMessageStore(notifier Notifier) *MessageStore {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MessageStore{
		topics:   make(map[chat.TopicID]*topicState),
		messages: make(map[chat.MessageID]*chat.Message),
		notifier: notifier,
	}
}

func (s *MessageStore) CreateTopic(id chat.TopicID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; ok {
		return errors.Errorf("topic %s already exists", id)
	}
	s.topics[id] = &topicState{name: name}
	return nil
}

func (s *MessageStore) TopicExists(id chat.TopicID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[id]
	return ok
}

// AddMessage appends a message to its topic's ordering. The topic must exist
// and the message id must be new.
func (s *MessageStore) AddMessage(msg *chat.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}

	s.mu.Lock()
	topic, ok := s.topics[msg.TopicID]
	if !ok {
		s.mu.Unlock()
		return errors.Errorf("unknown topic %s", msg.TopicID)
	}
	if _, ok := s.messages[msg.ID]; ok {
		s.mu.Unlock()
		return errors.Errorf("message %s already exists", msg.ID)
	}
	stored := clone.Clone(msg).(*chat.Message)
	s.messages[stored.ID] = stored
	topic.order = append(topic.order, stored.ID)
	s.mu.Unlock()

	s.notifier.MessageChanged(clone.Clone(stored).(*chat.Message))
	return nil
}

func (s *MessageStore) GetMessage(id chat.MessageID) (*chat.Message, error) {
	s.mu.RLock()
	msg, ok := s.messages[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown message %s", id)
	}
	return clone.Clone(msg).(*chat.Message), nil
}

// GetMessages returns copies of the topic's messages in insertion order.
func (s *MessageStore) GetMessages(topicID chat.TopicID) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topic, ok := s.topics[topicID]
	if !ok {
		return nil, errors.Errorf("unknown topic %s", topicID)
	}
	result := make([]*chat.Message, 0, len(topic.order))
	for _, id := range topic.order {
		result = append(result, clone.Clone(s.messages[id]).(*chat.Message))
	}
	return result, nil
}

// AppendBlockID records a block at the end of the message's block list.
// Appending to a message in a terminal status or appending a duplicate block
// id is an error.
func (s *MessageStore) AppendBlockID(messageID chat.MessageID, blockID chat.BlockID) error {
	s.mu.Lock()
	msg, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return errors.Errorf("unknown message %s", messageID)
	}
	if msg.Status.Terminal() {
		s.mu.Unlock()
		return errors.Errorf("message %s is %s, cannot append block", messageID, msg.Status)
	}
	for _, existing := range msg.BlockIDs {
		if existing == blockID {
			s.mu.Unlock()
			return errors.Errorf("block %s already attached to message %s", blockID, messageID)
		}
	}
	msg.BlockIDs = append(msg.BlockIDs, blockID)
	msg.UpdatedAt = time.Now()
	updated := clone.Clone(msg).(*chat.Message)
	s.mu.Unlock()

	s.notifier.MessageChanged(updated)
	return nil
}

// SetStatus updates a message's status. Leaving a terminal status is an
// error; setting the same status again is a no-op.
func (s *MessageStore) SetStatus(messageID chat.MessageID, status chat.MessageStatus) error {
	s.mu.Lock()
	msg, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return errors.Errorf("unknown message %s", messageID)
	}
	if msg.Status == status {
		s.mu.Unlock()
		return nil
	}
	if msg.Status.Terminal() {
		s.mu.Unlock()
		return errors.Errorf("message %s is %s, cannot set status %s", messageID, msg.Status, status)
	}
	msg.Status = status
	msg.UpdatedAt = time.Now()
	updated := clone.Clone(msg).(*chat.Message)
	s.mu.Unlock()

	s.notifier.MessageChanged(updated)
	return nil
}

// LoadTopic installs a topic and its messages wholesale, replacing any
// in-memory state for that topic. Used when hydrating from persistence.
func (s *MessageStore) LoadTopic(topic *chat.Topic) error {
	if topic == nil {
		return errors.New("nil topic")
	}

	s.mu.Lock()
	if existing, ok := s.topics[topic.ID]; ok {
		for _, id := range existing.order {
			delete(s.messages, id)
		}
	}
	ts := &topicState{name: topic.Name}
	for _, msg := range topic.Messages {
		stored := clone.Clone(msg).(*chat.Message)
		s.messages[stored.ID] = stored
		ts.order = append(ts.order, stored.ID)
	}
	s.topics[topic.ID] = ts
	s.mu.Unlock()

	return nil
}
