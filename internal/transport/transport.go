// Package transport is the outbound delivery seam. The engine decides what
// may be sent; a Transport performs the actual delivery.
package transport

import (
	"context"
	"sync"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

type Transport interface {
	SendConnection(ctx context.Context, c *models.Contact, note string) error
	SendMessage(ctx context.Context, conv *models.Conversation, m *models.Message) error
}

// Log records outbound traffic in the log and delivers nothing.
type Log struct {
	log *logging.Logger
}

func NewLog(log *logging.Logger) *Log {
	return &Log{log: log.With("module", "transport")}
}

func (t *Log) SendConnection(ctx context.Context, c *models.Contact, note string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Infow("connection request", "contact", c.ID, "url", c.Profile.ProfileURL, "length", len(note))
	return nil
}

func (t *Log) SendMessage(ctx context.Context, conv *models.Conversation, m *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Infow("message", "conversation", conv.ID, "contact", conv.ContactID, "role", m.Role, "length", len(m.Content))
	return nil
}

type Sent struct {
	ContactID      string
	ConversationID string
	Content        string
}

// Memory keeps deliveries in memory. Fail, when set, is consulted before
// every delivery and its error is returned as the delivery result.
type Memory struct {
	mu          sync.Mutex
	connections []Sent
	messages    []Sent

	Fail func(contactID string) error
}

func (t *Memory) SendConnection(ctx context.Context, c *models.Contact, note string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Fail != nil {
		if err := t.Fail(c.ID); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.connections = append(t.connections, Sent{ContactID: c.ID, Content: note})
	t.mu.Unlock()
	return nil
}

func (t *Memory) SendMessage(ctx context.Context, conv *models.Conversation, m *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Fail != nil {
		if err := t.Fail(conv.ContactID); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.messages = append(t.messages, Sent{ContactID: conv.ContactID, ConversationID: conv.ID, Content: m.Content})
	t.mu.Unlock()
	return nil
}

func (t *Memory) Connections() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.connections...)
}

func (t *Memory) Messages() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.messages...)
}
