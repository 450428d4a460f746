// Package conversation runs message turns for connected contacts. Inbound
// messages are appended and classified; outbound turns are routed through
// the autonomy policy before anything reaches the transport.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/autonomy"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/contact"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/leads"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/transport"
)

// Classifier labels the sentiment of an inbound message.
type Classifier interface {
	Classify(ctx context.Context, content string) (models.Sentiment, error)
}

// Neutral labels everything neutral.
type Neutral struct{}

func (Neutral) Classify(context.Context, string) (models.Sentiment, error) {
	return models.SentimentNeutral, nil
}

// Draft is a proposed outbound turn.
type Draft struct {
	Content string              `json:"content"`
	Class   models.MessageClass `json:"class"`
}

// Drafter proposes a reply to the latest inbound message.
type Drafter interface {
	Draft(ctx context.Context, conv *models.Conversation) (Draft, error)
}

// Inbound is a message delivered by the messaging transport. Either
// ConversationID or ContactID identifies the thread.
type Inbound struct {
	ConversationID string            `json:"conversation_id"`
	ContactID      string            `json:"contact_id"`
	Role           models.SenderRole `json:"role"`
	Content        string            `json:"content"`
	At             time.Time         `json:"at"`
	// Decline marks an explicit refusal by the recruiter.
	Decline bool `json:"decline"`
	// Qualification, when set, converts the conversation right away.
	Qualification *leads.Qualification `json:"qualification,omitempty"`
}

// TurnResult reports what happened to an outbound turn.
type TurnResult struct {
	Action   models.Action    `json:"action"`
	Message  *models.Message  `json:"message,omitempty"`
	Approval *models.Approval `json:"approval,omitempty"`
	// Degraded is set when an auto-send failed and the turn was queued instead.
	Degraded bool `json:"degraded,omitempty"`
}

type Engine struct {
	reg        *state.Registry
	tr         transport.Transport
	classifier Classifier
	drafter    Drafter
	leads      *leads.Service
	pub        events.Publisher
	now        func() time.Time
	log        *logging.Logger

	staleness       time.Duration
	classifyTimeout time.Duration
	deliveryTimeout time.Duration
}

type Option func(*Engine)

func WithClassifier(c Classifier) Option { return func(e *Engine) { e.classifier = c } }

func WithDrafter(d Drafter) Option { return func(e *Engine) { e.drafter = d } }

func WithLeads(l *leads.Service) Option { return func(e *Engine) { e.leads = l } }

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.pub = p } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log.With("module", "conversation") }
}

func New(reg *state.Registry, tr transport.Transport, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		reg:             reg,
		tr:              tr,
		classifier:      Neutral{},
		pub:             events.Discard{},
		now:             time.Now,
		log:             logging.Nop(),
		staleness:       cfg.Conversation.StalenessWindow,
		classifyTimeout: cfg.Conversation.ClassificationTimeout,
		deliveryTimeout: cfg.Conversation.DeliveryTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	if e.leads == nil {
		e.leads = leads.New(reg, leads.WithPublisher(e.pub), leads.WithClock(e.now), leads.WithLogger(e.log))
	}
	return e
}

// OpenIn attaches a conversation to a connected contact. A paused thread is
// reopened; an ended one stays closed and a new thread replaces it. The
// caller holds the account lock.
func (e *Engine) OpenIn(ctx context.Context, g *state.Aggregate, c *models.Contact) (*models.Conversation, error) {
	switch c.Status {
	case models.StatusConnected, models.StatusResponded, models.StatusLead:
	default:
		return nil, &models.TransitionError{Entity: "conversation for contact " + c.ID, From: string(c.Status), Event: "open"}
	}
	now := e.now()
	if conv, ok := g.ConversationFor(c.ID); ok && conv.Status != models.ConversationEnded {
		if conv.Status != models.ConversationPaused {
			return conv, nil
		}
		next := conv.Clone()
		next.Status = models.ConversationActive
		next.UpdatedAt = now
		if err := e.reg.Journal().SaveConversation(ctx, next); err != nil {
			return nil, fmt.Errorf("persist conversation: %w", err)
		}
		g.Conversations[next.ID] = next
		return next, nil
	}

	conv := &models.Conversation{
		ID:         uuid.NewString(),
		ContactID:  c.ID,
		CampaignID: c.CampaignID,
		AccountID:  g.Account.ID,
		Sentiment:  models.SentimentNeutral,
		Status:     models.ConversationActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.reg.Journal().SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	g.Conversations[conv.ID] = conv
	g.ByContact[c.ID] = conv.ID
	e.reg.Index(state.KindConversation, conv.ID, g.Account.ID)
	return conv, nil
}

// Open is OpenIn for a contact id.
func (e *Engine) Open(ctx context.Context, contactID string) (*models.Conversation, error) {
	var out *models.Conversation
	err := e.reg.UpdateOwner(state.KindContact, contactID, func(g *state.Aggregate) error {
		c, ok := g.Contacts[contactID]
		if !ok {
			return fmt.Errorf("contact %s: %w", contactID, models.ErrNotFound)
		}
		conv, err := e.OpenIn(ctx, g, c)
		if err != nil {
			return err
		}
		out = conv.Clone()
		return nil
	})
	return out, err
}

// HandleInbound records a message from the messaging transport. Sentiment is
// classified before the account lock is taken; a slow or failing classifier
// yields neutral.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) (*models.Message, error) {
	if in.Content == "" {
		return nil, models.ErrEmptyContent
	}
	convID, accountID, err := e.resolve(in)
	if err != nil {
		return nil, err
	}
	sentiment := e.classify(ctx, convID, in.Content)

	role := in.Role
	if role == "" {
		role = models.RoleRecruiter
	}
	var (
		msg      models.Message
		active   bool
		autoSend bool
	)
	err = e.reg.Update(accountID, func(g *state.Aggregate) error {
		conv, ok := g.Conversations[convID]
		if !ok {
			return fmt.Errorf("conversation %s: %w", convID, models.ErrNotFound)
		}
		if conv.Status == models.ConversationEnded {
			return fmt.Errorf("conversation %s: %w", convID, models.ErrConversationClosed)
		}
		c, ok := g.Contacts[conv.ContactID]
		if !ok {
			return fmt.Errorf("contact %s: %w", conv.ContactID, models.ErrNotFound)
		}

		at := in.At
		if at.IsZero() {
			at = e.now()
		}
		if last := conv.LastTimestamp(); at.Before(last) {
			at = last
		}

		nextContact := c.Clone()
		ev := contact.InboundMessage
		declined := in.Decline
		if declined {
			ev = contact.Decline
		}
		if err := contact.Apply(nextContact, ev, at, g.Account.Settings.CooldownPeriodDays); err != nil {
			// A lead cannot decline any more; the message is still kept.
			if !declined || !errors.Is(err, models.ErrIllegalStateTransition) {
				return err
			}
			e.log.Warnw("decline ignored for contact", "contact", c.ID, "status", c.Status)
			declined = false
			if err := contact.Apply(nextContact, contact.InboundMessage, at, g.Account.Settings.CooldownPeriodDays); err != nil {
				return err
			}
		}

		msg = models.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           role,
			Content:        in.Content,
			Timestamp:      at,
		}
		next := conv.Clone()
		next.Messages = append(next.Messages, msg)
		next.Sentiment = sentiment
		next.LastInboundAt = &at
		next.UpdatedAt = at
		switch {
		case declined:
			next.Status = models.ConversationEnded
		case next.Status == models.ConversationPaused:
			next.Status = models.ConversationActive
		}

		j := e.reg.Journal()
		if err := j.AppendMessage(ctx, &msg); err != nil {
			return fmt.Errorf("persist message: %w", err)
		}
		if err := j.SaveConversation(ctx, next); err != nil {
			return fmt.Errorf("persist conversation: %w", err)
		}
		if err := j.SaveContact(ctx, nextContact); err != nil {
			return fmt.Errorf("persist contact: %w", err)
		}
		g.Conversations[conv.ID] = next
		g.Contacts[c.ID] = nextContact
		e.reg.Index(state.KindMessage, msg.ID, accountID)

		e.log.Infow("inbound message", "account", accountID, "conversation", conv.ID, "sentiment", sentiment,
			"decline", declined, "preview", msg.Preview())
		e.pub.Publish(events.Event{Type: events.NewMessage, AccountID: accountID, Data: msg, At: at})

		if in.Qualification != nil && !declined {
			if _, err := e.leads.ConvertIn(ctx, g, conv.ID, *in.Qualification); err != nil && !errors.Is(err, models.ErrDuplicateLeadConversion) {
				e.log.Warnw("explicit conversion rejected", "conversation", conv.ID, "err", err)
			}
		}
		active = g.Conversations[conv.ID].Status == models.ConversationActive
		autoSend = g.Account.Settings.AutoRespond && g.Account.Active
		return nil
	})
	if err != nil {
		return nil, err
	}

	if active {
		if _, err := e.leads.Evaluate(ctx, convID); err != nil {
			e.log.Warnw("lead evaluation failed", "conversation", convID, "err", err)
		}
	}
	if autoSend && e.drafter != nil {
		e.autoReply(ctx, convID)
	}
	return &msg, nil
}

func (e *Engine) autoReply(ctx context.Context, convID string) {
	conv, err := e.Conversation(convID)
	if err != nil || conv.Status == models.ConversationEnded {
		return
	}
	d, err := e.drafter.Draft(ctx, conv)
	if err != nil {
		e.log.Warnw("draft failed", "conversation", convID, "err", err)
		return
	}
	if d.Content == "" {
		return
	}
	if _, err := e.RequestTurn(ctx, convID, d); err != nil {
		e.log.Warnw("drafted turn failed", "conversation", convID, "err", err)
	}
}

// Conversation returns a copy of a conversation.
func (e *Engine) Conversation(id string) (*models.Conversation, error) {
	var out *models.Conversation
	err := e.reg.UpdateOwner(state.KindConversation, id, func(g *state.Aggregate) error {
		conv, ok := g.Conversations[id]
		if !ok {
			return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		out = conv.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) resolve(in Inbound) (convID, accountID string, err error) {
	if in.ConversationID != "" {
		accountID, err = e.reg.Owner(state.KindConversation, in.ConversationID)
		return in.ConversationID, accountID, err
	}
	if in.ContactID == "" {
		return "", "", fmt.Errorf("inbound message without thread: %w", models.ErrNotFound)
	}
	err = e.reg.UpdateOwner(state.KindContact, in.ContactID, func(g *state.Aggregate) error {
		accountID = g.Account.ID
		id, ok := g.ByContact[in.ContactID]
		if !ok {
			return fmt.Errorf("conversation for contact %s: %w", in.ContactID, models.ErrNotFound)
		}
		convID = id
		return nil
	})
	return convID, accountID, err
}

func (e *Engine) classify(ctx context.Context, convID, content string) models.Sentiment {
	cctx := ctx
	if e.classifyTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.classifyTimeout)
		defer cancel()
	}
	type result struct {
		s   models.Sentiment
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := e.classifier.Classify(cctx, content)
		ch <- result{s, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			e.log.Warnw("classification failed, using neutral", "conversation", convID, "err", r.err)
			return models.SentimentNeutral
		}
		switch r.s {
		case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
			return r.s
		}
		e.log.Warnw("unknown sentiment label, using neutral", "conversation", convID, "label", r.s)
		return models.SentimentNeutral
	case <-cctx.Done():
		e.log.Warnw("classification failed, using neutral", "conversation", convID, "err", fmt.Errorf("%w: %v", models.ErrClassificationTimeout, cctx.Err()))
		return models.SentimentNeutral
	}
}

// RequestTurn routes an outbound turn through the autonomy policy.
func (e *Engine) RequestTurn(ctx context.Context, convID string, d Draft) (TurnResult, error) {
	if d.Content == "" {
		return TurnResult{}, models.ErrEmptyContent
	}
	if d.Class == "" {
		d.Class = models.ClassRoutine
	}
	if d.Class == models.ClassConnectionRequest && len([]rune(d.Content)) > models.MaxConnectionNoteLen {
		return TurnResult{}, models.ErrContentTooLong
	}

	var res TurnResult
	err := e.reg.UpdateOwner(state.KindConversation, convID, func(g *state.Aggregate) error {
		conv, ok := g.Conversations[convID]
		if !ok {
			return fmt.Errorf("conversation %s: %w", convID, models.ErrNotFound)
		}
		if conv.Status == models.ConversationEnded {
			return fmt.Errorf("conversation %s: %w", convID, models.ErrConversationClosed)
		}
		acct := g.Account
		if !acct.Active {
			return models.ErrAccountInactive
		}

		action := autonomy.Decide(acct.Temperature, d.Class, conv.Sentiment)
		if action == models.ActionAutoSend && !acct.Settings.AutoRespond {
			action = models.ActionQueueForApproval
		}
		res.Action = action

		switch action {
		case models.ActionAutoSend:
			msg, err := e.deliver(ctx, g, conv, models.RoleAgent, d.Content, d.Class)
			if err == nil {
				res.Message = msg
				return nil
			}
			e.log.Warnw("auto-send failed, queueing for approval", "conversation", convID, "err", err)
			res.Action = models.ActionQueueForApproval
			res.Degraded = true
			ap, err := e.queue(ctx, g, conv, d, "delivery failed")
			res.Approval = ap
			return err
		case models.ActionQueueForApproval:
			ap, err := e.queue(ctx, g, conv, d, "autonomy "+string(autonomy.BandOf(acct.Temperature)))
			res.Approval = ap
			return err
		default:
			e.log.Infow("turn held", "account", acct.ID, "conversation", convID, "class", d.Class, "sentiment", conv.Sentiment)
			return nil
		}
	})
	return res, err
}

// SendManualMessage sends the account owner's own words. It bypasses the
// autonomy policy.
func (e *Engine) SendManualMessage(ctx context.Context, convID, content string) (*models.Message, error) {
	if content == "" {
		return nil, models.ErrEmptyContent
	}
	var out *models.Message
	err := e.reg.UpdateOwner(state.KindConversation, convID, func(g *state.Aggregate) error {
		conv, ok := g.Conversations[convID]
		if !ok {
			return fmt.Errorf("conversation %s: %w", convID, models.ErrNotFound)
		}
		if conv.Status == models.ConversationEnded {
			return fmt.Errorf("conversation %s: %w", convID, models.ErrConversationClosed)
		}
		msg, err := e.deliver(ctx, g, conv, models.RoleCandidate, content, "")
		out = msg
		return err
	})
	return out, err
}

// Approve delivers a queued turn. An approved lead-conversion turn converts
// the conversation.
func (e *Engine) Approve(ctx context.Context, approvalID string) (*models.Message, error) {
	var out *models.Message
	err := e.reg.UpdateOwner(state.KindApproval, approvalID, func(g *state.Aggregate) error {
		ap, conv, err := e.pending(g, approvalID)
		if err != nil {
			return err
		}
		msg, err := e.deliver(ctx, g, conv, models.RoleAgent, ap.Content, ap.Class)
		if err != nil {
			return err
		}
		out = msg
		if err := e.resolveApproval(ctx, g, ap, models.ApprovalApproved); err != nil {
			return err
		}
		if ap.Class == models.ClassLeadConversion {
			q := leads.Qualification{Qualifies: true, KeyPoints: conv.KeyPoints, NextSteps: conv.NextSteps}
			if _, err := e.leads.ConvertIn(ctx, g, conv.ID, q); err != nil && !errors.Is(err, models.ErrDuplicateLeadConversion) {
				e.log.Warnw("conversion after approval rejected", "conversation", conv.ID, "err", err)
			}
		}
		return nil
	})
	return out, err
}

// Reject discards a queued turn.
func (e *Engine) Reject(ctx context.Context, approvalID string) error {
	return e.reg.UpdateOwner(state.KindApproval, approvalID, func(g *state.Aggregate) error {
		ap, ok := g.Approvals[approvalID]
		if !ok {
			return fmt.Errorf("approval %s: %w", approvalID, models.ErrNotFound)
		}
		if ap.Status != models.ApprovalPending {
			return models.ErrApprovalResolved
		}
		return e.resolveApproval(ctx, g, ap, models.ApprovalRejected)
	})
}

// ProvideFeedback logs a rating of an agent message. It changes no state.
func (e *Engine) ProvideFeedback(ctx context.Context, messageID string, rating models.Rating) error {
	if rating != models.RatingUp && rating != models.RatingDown {
		return models.ErrInvalidRating
	}
	accountID, err := e.reg.Owner(state.KindMessage, messageID)
	if err != nil {
		return err
	}
	f := &models.Feedback{
		ID:        uuid.NewString(),
		MessageID: messageID,
		AccountID: accountID,
		Rating:    rating,
		CreatedAt: e.now(),
	}
	if err := e.reg.Journal().AppendFeedback(ctx, f); err != nil {
		return fmt.Errorf("persist feedback: %w", err)
	}
	e.log.Infow("message feedback", "account", accountID, "message", messageID, "rating", rating)
	return nil
}

// SweepStale pauses active conversations without inbound activity inside the
// staleness window. It returns the number of paused conversations.
func (e *Engine) SweepStale(ctx context.Context) (int, error) {
	if e.staleness <= 0 {
		return 0, nil
	}
	now := e.now()
	cutoff := now.Add(-e.staleness)
	paused := 0
	for _, accountID := range e.reg.AccountIDs() {
		err := e.reg.Update(accountID, func(g *state.Aggregate) error {
			for id, conv := range g.Conversations {
				if conv.Status != models.ConversationActive {
					continue
				}
				last := conv.CreatedAt
				if conv.LastInboundAt != nil {
					last = *conv.LastInboundAt
				}
				if !last.Before(cutoff) {
					continue
				}
				next := conv.Clone()
				next.Status = models.ConversationPaused
				next.UpdatedAt = now
				if err := e.reg.Journal().SaveConversation(ctx, next); err != nil {
					return fmt.Errorf("persist conversation: %w", err)
				}
				g.Conversations[id] = next
				paused++
			}
			return nil
		})
		if err != nil {
			return paused, err
		}
	}
	if paused > 0 {
		e.log.Infow("paused stale conversations", "count", paused)
	}
	return paused, nil
}

func (e *Engine) deliver(ctx context.Context, g *state.Aggregate, conv *models.Conversation, role models.SenderRole, content string, class models.MessageClass) (*models.Message, error) {
	now := e.now()
	if last := conv.LastTimestamp(); now.Before(last) {
		now = last
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		Class:          class,
		Timestamp:      now,
	}
	dctx := ctx
	if e.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, e.deliveryTimeout)
		defer cancel()
	}
	if err := e.tr.SendMessage(dctx, conv.Clone(), &msg); err != nil {
		return nil, fmt.Errorf("deliver message: %w", err)
	}

	next := conv.Clone()
	next.Messages = append(next.Messages, msg)
	next.UpdatedAt = now
	j := e.reg.Journal()
	if err := j.AppendMessage(ctx, &msg); err != nil {
		e.log.Errorw("delivered message not persisted", "conversation", conv.ID, "message", msg.ID, "err", err)
	}
	if err := j.SaveConversation(ctx, next); err != nil {
		e.log.Errorw("conversation not persisted", "conversation", conv.ID, "err", err)
	}
	g.Conversations[conv.ID] = next
	e.reg.Index(state.KindMessage, msg.ID, g.Account.ID)
	e.pub.Publish(events.Event{Type: events.NewMessage, AccountID: g.Account.ID, Data: msg, At: now})
	return &msg, nil
}

func (e *Engine) queue(ctx context.Context, g *state.Aggregate, conv *models.Conversation, d Draft, reason string) (*models.Approval, error) {
	ap := &models.Approval{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		AccountID:      g.Account.ID,
		Content:        d.Content,
		Class:          d.Class,
		Reason:         reason,
		Status:         models.ApprovalPending,
		CreatedAt:      e.now(),
	}
	if err := e.reg.Journal().SaveApproval(ctx, ap); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	g.Approvals[ap.ID] = ap
	e.reg.Index(state.KindApproval, ap.ID, g.Account.ID)
	cp := *ap
	e.pub.Publish(events.Event{Type: events.PendingApproval, AccountID: g.Account.ID, Data: cp, At: ap.CreatedAt})
	return &cp, nil
}

func (e *Engine) pending(g *state.Aggregate, approvalID string) (*models.Approval, *models.Conversation, error) {
	ap, ok := g.Approvals[approvalID]
	if !ok {
		return nil, nil, fmt.Errorf("approval %s: %w", approvalID, models.ErrNotFound)
	}
	if ap.Status != models.ApprovalPending {
		return nil, nil, models.ErrApprovalResolved
	}
	conv, ok := g.Conversations[ap.ConversationID]
	if !ok {
		return nil, nil, fmt.Errorf("conversation %s: %w", ap.ConversationID, models.ErrNotFound)
	}
	if conv.Status == models.ConversationEnded {
		return nil, nil, fmt.Errorf("conversation %s: %w", conv.ID, models.ErrConversationClosed)
	}
	return ap, conv, nil
}

func (e *Engine) resolveApproval(ctx context.Context, g *state.Aggregate, ap *models.Approval, status models.ApprovalStatus) error {
	next := *ap
	now := e.now()
	next.Status = status
	next.ResolvedAt = &now
	if err := e.reg.Journal().SaveApproval(ctx, &next); err != nil {
		return fmt.Errorf("persist approval: %w", err)
	}
	g.Approvals[ap.ID] = &next
	return nil
}
