// Package events fans notification events out to the presentation client.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	LeadGenerated      Type = "leadGenerated"
	ConnectionAccepted Type = "connectionAccepted"
	NewMessage         Type = "newMessage"
	CreditLow          Type = "creditLow"
	PendingApproval    Type = "pendingApproval"
	CampaignHalted     Type = "campaignHalted"
	CampaignCompleted  Type = "campaignCompleted"
)

type Event struct {
	Type      Type      `json:"type"`
	AccountID string    `json:"account_id"`
	Data      any       `json:"data"`
	At        time.Time `json:"at"`
}

// Publisher is the narrow side handed to engine components.
type Publisher interface {
	Publish(Event)
}

type subscriber struct {
	accountID string
	ch        chan Event
}

// Bus delivers events to subscribers without blocking publishers; a slow
// subscriber loses events once its buffer is full.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[*subscriber]struct{}), buffer: buffer}
}

// Subscribe registers a listener. An empty accountID receives every account's events.
// The returned cancel func closes the channel.
func (b *Bus) Subscribe(accountID string) (<-chan Event, func()) {
	s := &subscriber{accountID: accountID, ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.accountID != "" && s.accountID != ev.AccountID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
