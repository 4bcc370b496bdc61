package handler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

const (
	// MessageDeleteInterval is how long bot messages stay before the cleaner removes them.
	MessageDeleteInterval = 30 * time.Minute
	cleanInterval         = 5 * time.Minute
)

// Deleter removes a sent message. *tele.Bot satisfies it.
type Deleter interface {
	Delete(msg tele.Editable) error
}

// TrackedMessage represents a message to be deleted later.
type TrackedMessage struct {
	ChatID    int64
	MessageID int
	SentAt    time.Time
}

// MessageCleaner deletes bot messages once they are older than MessageDeleteInterval.
type MessageCleaner struct {
	deleter Deleter
	now     func() time.Time

	mu       sync.Mutex
	messages []TrackedMessage
}

// NewMessageCleaner creates a cleaner. A nil now uses time.Now.
func NewMessageCleaner(deleter Deleter, now func() time.Time) *MessageCleaner {
	if now == nil {
		now = time.Now
	}
	return &MessageCleaner{deleter: deleter, now: now}
}

// Track schedules msg for deletion. Nil messages are ignored.
func (m *MessageCleaner) Track(msg *tele.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, TrackedMessage{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		SentAt:    m.now(),
	})
}

// Pending returns the number of tracked messages.
func (m *MessageCleaner) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Clean deletes expired messages and returns how many were removed from tracking.
func (m *MessageCleaner) Clean() int {
	m.mu.Lock()
	now := m.now()
	var expired, remaining []TrackedMessage
	for _, msg := range m.messages {
		if now.Sub(msg.SentAt) >= MessageDeleteInterval {
			expired = append(expired, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	m.messages = remaining
	m.mu.Unlock()

	for _, msg := range expired {
		err := m.deleter.Delete(&tele.Message{
			ID:   msg.MessageID,
			Chat: &tele.Chat{ID: msg.ChatID},
		})
		if err != nil {
			log.Debug().Err(err).Int("msg_id", msg.MessageID).Msg("Failed to delete old message")
		}
	}
	return len(expired)
}

// Run cleans every few minutes until ctx is done.
func (m *MessageCleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Clean()
		}
	}
}
