// Package leads promotes qualifying conversations to prioritized leads.
package leads

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/contact"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

// HighMatchScore promotes a lead to high priority on its own.
const HighMatchScore = 85

// Qualification is the verdict of a qualifier, or an explicit conversion marker.
type Qualification struct {
	Qualifies bool     `json:"qualifies"`
	Summary   string   `json:"summary,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// Qualifier judges whether a conversation shows real recruiter interest.
type Qualifier interface {
	Qualify(ctx context.Context, conv *models.Conversation) (Qualification, error)
}

type Service struct {
	reg       *state.Registry
	qualifier Qualifier
	pub       events.Publisher
	now       func() time.Time
	log       *logging.Logger
}

type Option func(*Service)

func WithQualifier(q Qualifier) Option { return func(s *Service) { s.qualifier = q } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(log *logging.Logger) Option {
	return func(s *Service) { s.log = log.With("module", "leads") }
}

func New(reg *state.Registry, opts ...Option) *Service {
	s := &Service{reg: reg, pub: events.Discard{}, now: time.Now, log: logging.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Priority ranks a converted conversation.
func Priority(matchScore int, sentiment models.Sentiment, nextSteps []string) models.Priority {
	switch {
	case matchScore >= HighMatchScore:
		return models.PriorityHigh
	case sentiment == models.SentimentPositive && len(nextSteps) > 0:
		return models.PriorityHigh
	case sentiment == models.SentimentNeutral || sentiment == models.SentimentNegative:
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

// Evaluate asks the qualifier about a conversation and converts it when it
// qualifies. It returns nil, nil when there is no qualifier or no verdict.
func (s *Service) Evaluate(ctx context.Context, conversationID string) (*models.Lead, error) {
	if s.qualifier == nil {
		return nil, nil
	}
	var snapshot *models.Conversation
	err := s.reg.UpdateOwner(state.KindConversation, conversationID, func(g *state.Aggregate) error {
		conv, ok := g.Conversations[conversationID]
		if !ok {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}
		snapshot = conv.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if snapshot.Status != models.ConversationActive {
		return nil, nil
	}

	q, err := s.qualifier.Qualify(ctx, snapshot)
	if err != nil {
		s.log.Warnw("qualifier failed", "conversation", conversationID, "err", err)
		return nil, nil
	}
	if !q.Qualifies {
		return nil, nil
	}
	lead, err := s.Convert(ctx, conversationID, q)
	if errors.Is(err, models.ErrDuplicateLeadConversion) {
		return lead, nil
	}
	return lead, err
}

// Convert promotes a conversation to a lead. A second conversion of the same
// conversation returns the existing lead together with ErrDuplicateLeadConversion.
func (s *Service) Convert(ctx context.Context, conversationID string, q Qualification) (*models.Lead, error) {
	var lead *models.Lead
	err := s.reg.UpdateOwner(state.KindConversation, conversationID, func(g *state.Aggregate) error {
		l, err := s.ConvertIn(ctx, g, conversationID, q)
		lead = l
		return err
	})
	return lead, err
}

// ConvertIn is Convert for callers already holding the account lock.
func (s *Service) ConvertIn(ctx context.Context, g *state.Aggregate, conversationID string, q Qualification) (*models.Lead, error) {
	conv, ok := g.Conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
	}
	if existing, ok := g.Leads[conversationID]; ok {
		cp := *existing
		return &cp, models.ErrDuplicateLeadConversion
	}
	if conv.Status == models.ConversationEnded {
		return nil, &models.TransitionError{Entity: "conversation " + conv.ID, From: string(conv.Status), Event: "convert"}
	}
	c, ok := g.Contacts[conv.ContactID]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", conv.ContactID, models.ErrNotFound)
	}

	now := s.now()
	nextContact := c.Clone()
	if err := contact.Apply(nextContact, contact.ConversationConverted, now, g.Account.Settings.CooldownPeriodDays); err != nil {
		return nil, err
	}

	nextConv := conv.Clone()
	nextConv.Status = models.ConversationConverted
	nextConv.UpdatedAt = now
	if len(q.KeyPoints) > 0 {
		nextConv.KeyPoints = slices.Clone(q.KeyPoints)
	}
	if len(q.NextSteps) > 0 {
		nextConv.NextSteps = slices.Clone(q.NextSteps)
	}
	if q.Summary != "" {
		nextConv.Summary = q.Summary
	}

	lead := &models.Lead{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ContactID:      c.ID,
		AccountID:      g.Account.ID,
		Priority:       Priority(c.MatchScore, nextConv.Sentiment, nextConv.NextSteps),
		ConvertedAt:    now,
		Notes:          q.Notes,
		KeyPoints:      slices.Clone(nextConv.KeyPoints),
		NextSteps:      slices.Clone(nextConv.NextSteps),
	}

	j := s.reg.Journal()
	if err := j.SaveLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("persist lead: %w", err)
	}
	if err := j.SaveConversation(ctx, nextConv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	if err := j.SaveContact(ctx, nextContact); err != nil {
		return nil, fmt.Errorf("persist contact: %w", err)
	}

	g.Leads[conv.ID] = lead
	g.Conversations[conv.ID] = nextConv
	g.Contacts[c.ID] = nextContact
	s.reg.Index(state.KindLead, lead.ID, g.Account.ID)

	s.log.Infow("lead generated", "account", g.Account.ID, "conversation", conv.ID, "contact", c.ID, "priority", lead.Priority)
	cp := *lead
	s.pub.Publish(events.Event{Type: events.LeadGenerated, AccountID: g.Account.ID, Data: cp, At: now})
	return &cp, nil
}

// Archive hides a lead from the active list. Leads are never deleted.
func (s *Service) Archive(ctx context.Context, leadID string) (*models.Lead, error) {
	var out *models.Lead
	err := s.reg.UpdateOwner(state.KindLead, leadID, func(g *state.Aggregate) error {
		for convID, l := range g.Leads {
			if l.ID != leadID {
				continue
			}
			next := *l
			next.Archived = true
			if err := s.reg.Journal().SaveLead(ctx, &next); err != nil {
				return fmt.Errorf("persist lead: %w", err)
			}
			g.Leads[convID] = &next
			cp := next
			out = &cp
			return nil
		}
		return fmt.Errorf("lead %s: %w", leadID, models.ErrNotFound)
	})
	return out, err
}
