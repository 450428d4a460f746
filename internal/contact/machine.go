// Package contact implements the recruiter lifecycle:
//
//	pending --SendConnection--> connected --InboundMessage--> responded --ConversationConverted--> lead
//	{pending, connected, responded, cooldown} --Decline--> declined
//	declined --EnterCooldown--> cooldown --CooldownElapsed--> pending
//
// Transitions only move forward except for the decline/cooldown/pending
// reactivation loop, and a contact re-enters pending at most once per decline.
package contact

import (
	"time"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

type Event string

const (
	SendConnection        Event = "send_connection"
	InboundMessage        Event = "inbound_message"
	ConversationConverted Event = "conversation_converted"
	Decline               Event = "decline"
	EnterCooldown         Event = "enter_cooldown"
	CooldownElapsed       Event = "cooldown_elapsed"
)

var edges = map[Event]map[models.ContactStatus]models.ContactStatus{
	SendConnection: {
		models.StatusPending: models.StatusConnected,
	},
	InboundMessage: {
		models.StatusConnected: models.StatusResponded,
	},
	ConversationConverted: {
		models.StatusResponded: models.StatusLead,
	},
	Decline: {
		models.StatusPending:   models.StatusDeclined,
		models.StatusConnected: models.StatusDeclined,
		models.StatusResponded: models.StatusDeclined,
		models.StatusCooldown:  models.StatusDeclined,
	},
	EnterCooldown: {
		models.StatusDeclined: models.StatusCooldown,
	},
	CooldownElapsed: {
		models.StatusCooldown: models.StatusPending,
	},
}

// CanTransition reports whether the edge exists in the lifecycle graph.
func CanTransition(from, to models.ContactStatus) bool {
	for _, m := range edges {
		if m[from] == to && to != "" {
			return true
		}
	}
	return false
}

// Apply moves c along ev. cooldownDays is only read by EnterCooldown and
// CooldownElapsed. Rejected events leave c untouched.
func Apply(c *models.Contact, ev Event, now time.Time, cooldownDays int) error {
	if ev == InboundMessage && (c.Status == models.StatusResponded || c.Status == models.StatusLead) {
		touch(c, now)
		return nil
	}
	to, ok := edges[ev][c.Status]
	if !ok {
		return illegal(c, ev)
	}

	switch ev {
	case SendConnection:
		t := now
		c.ConnectionSentAt = &t
	case Decline:
		c.Declines++
	case EnterCooldown:
		until := cooldownExpiry(c, now, cooldownDays)
		c.CooldownUntil = &until
	case CooldownElapsed:
		if c.Reactivations >= c.Declines {
			return illegal(c, ev)
		}
		if c.CooldownUntil == nil || now.Before(*c.CooldownUntil) {
			return models.ErrCooldownActive
		}
		c.Reactivations++
		c.CooldownUntil = nil
	}

	c.History = append(c.History, models.StatusChange{From: c.Status, To: to, At: now})
	c.Status = to
	if ev != EnterCooldown && ev != CooldownElapsed {
		touch(c, now)
	}
	return nil
}

// Reactivate walks a declined contact through cooldown and back to pending.
// It returns ErrCooldownActive when the contact is parked in cooldown but the
// period has not elapsed yet.
func Reactivate(c *models.Contact, now time.Time, cooldownDays int) error {
	if c.Status == models.StatusDeclined {
		if err := Apply(c, EnterCooldown, now, cooldownDays); err != nil {
			return err
		}
	}
	return Apply(c, CooldownElapsed, now, cooldownDays)
}

// Reactivatable reports whether Reactivate would bring c back to pending at now.
func Reactivatable(c *models.Contact, now time.Time, cooldownDays int) bool {
	if c.Reactivations >= c.Declines {
		return false
	}
	switch c.Status {
	case models.StatusDeclined:
		return !now.Before(cooldownExpiry(c, now, cooldownDays))
	case models.StatusCooldown:
		return c.CooldownUntil != nil && !now.Before(*c.CooldownUntil)
	}
	return false
}

// ValidPath reports whether history is a walk over the lifecycle graph.
func ValidPath(history []models.StatusChange) bool {
	for i, h := range history {
		if !CanTransition(h.From, h.To) {
			return false
		}
		if i > 0 && history[i-1].To != h.From {
			return false
		}
	}
	return true
}

func cooldownExpiry(c *models.Contact, now time.Time, cooldownDays int) time.Time {
	base := now
	if c.LastActivity != nil {
		base = *c.LastActivity
	}
	return base.AddDate(0, 0, cooldownDays)
}

func touch(c *models.Contact, now time.Time) {
	t := now
	c.LastActivity = &t
}

func illegal(c *models.Contact, ev Event) error {
	return &models.TransitionError{Entity: "contact " + c.ID, From: string(c.Status), Event: string(ev)}
}
