// Package scheduler drives connection requests. One cycle per account picks
// eligible contacts in a fixed order and sends while the working-hour window,
// the daily cap and the credit ledger all allow it.
//
// Candidate order: match score descending, then the last connection request
// ascending with never-contacted first, then contact id ascending.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/contact"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/conversation"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/ledger"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/transport"
)

// CostPerConnection is the credit price of one connection request.
const CostPerConnection = 1

type CycleReport struct {
	AccountID string `json:"account_id"`
	// Skipped is set for deactivated accounts.
	Skipped     bool      `json:"skipped,omitempty"`
	Deferred    bool      `json:"deferred,omitempty"`
	NextOpen    time.Time `json:"next_open,omitempty"`
	Sent        []string  `json:"sent,omitempty"`
	Failed      []string  `json:"failed,omitempty"`
	Reactivated []string  `json:"reactivated,omitempty"`
	Parked      []string  `json:"parked,omitempty"`
	CapReached  bool      `json:"cap_reached,omitempty"`
	Halted      bool      `json:"halted,omitempty"`
	HaltReason  string    `json:"halt_reason,omitempty"`
	Exhausted   []string  `json:"exhausted,omitempty"`
	Completed   []string  `json:"completed,omitempty"`
}

type Scheduler struct {
	reg    *state.Registry
	ledger *ledger.Ledger
	conv   *conversation.Engine
	tr     transport.Transport
	pub    events.Publisher
	now    func() time.Time
	log    *logging.Logger
	hooks  []func(context.Context)

	tick            time.Duration
	cycleTimeout    time.Duration
	deliveryTimeout time.Duration
	defaultNote     string

	mu       sync.Mutex
	inflight map[string]map[*cancelHandle]struct{}
	stopped  map[string]struct{}
}

type cancelHandle struct{ cancel context.CancelFunc }

type Option func(*Scheduler)

func WithPublisher(p events.Publisher) Option { return func(s *Scheduler) { s.pub = p } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithLogger(log *logging.Logger) Option {
	return func(s *Scheduler) { s.log = log.With("module", "scheduler") }
}

// WithTickHook runs fn after every pass of the control loop.
func WithTickHook(fn func(context.Context)) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, fn) }
}

func New(reg *state.Registry, led *ledger.Ledger, conv *conversation.Engine, tr transport.Transport, cfg *config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:             reg,
		ledger:          led,
		conv:            conv,
		tr:              tr,
		pub:             events.Discard{},
		now:             time.Now,
		log:             logging.Nop(),
		tick:            cfg.Scheduler.TickInterval,
		cycleTimeout:    cfg.Scheduler.CycleTimeout,
		deliveryTimeout: cfg.Conversation.DeliveryTimeout,
		defaultNote:     cfg.Defaults.ConnectionNote,
		inflight:        make(map[string]map[*cancelHandle]struct{}),
		stopped:         make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run drives cycles for every account until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.log.Infow("control loop started", "tick", s.tick)
	for {
		s.RunAll(ctx)
		select {
		case <-ctx.Done():
			s.log.Infow("control loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunAll runs one cycle per account in parallel, then the staleness sweep
// and any tick hooks.
func (s *Scheduler) RunAll(ctx context.Context) []CycleReport {
	ids := s.reg.AccountIDs()
	reports := make([]CycleReport, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			cctx := gctx
			if s.cycleTimeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, s.cycleTimeout)
				defer cancel()
			}
			r, err := s.RunCycle(cctx, id)
			if err != nil {
				s.log.Warnw("cycle failed", "account", id, "err", err)
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return reports
	}
	if _, err := s.conv.SweepStale(ctx); err != nil {
		s.log.Warnw("staleness sweep failed", "err", err)
	}
	for _, h := range s.hooks {
		h(ctx)
	}
	return reports
}

// CancelCampaign aborts in-flight deliveries of a campaign and keeps cycles
// away from it until ReleaseCampaign. Reservations of aborted deliveries are
// released by the running cycle.
func (s *Scheduler) CancelCampaign(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped[campaignID] = struct{}{}
	for h := range s.inflight[campaignID] {
		h.cancel()
	}
}

// ReleaseCampaign undoes CancelCampaign once the campaign status reflects the pause.
func (s *Scheduler) ReleaseCampaign(campaignID string) {
	s.mu.Lock()
	delete(s.stopped, campaignID)
	s.mu.Unlock()
}

func (s *Scheduler) track(ctx context.Context, campaignID string) (context.Context, func()) {
	cctx, cancel := context.WithCancel(ctx)
	h := &cancelHandle{cancel: cancel}
	s.mu.Lock()
	if s.inflight[campaignID] == nil {
		s.inflight[campaignID] = make(map[*cancelHandle]struct{})
	}
	s.inflight[campaignID][h] = struct{}{}
	if _, ok := s.stopped[campaignID]; ok {
		cancel()
	}
	s.mu.Unlock()
	return cctx, func() {
		s.mu.Lock()
		delete(s.inflight[campaignID], h)
		if len(s.inflight[campaignID]) == 0 {
			delete(s.inflight, campaignID)
		}
		s.mu.Unlock()
		cancel()
	}
}

type candidate struct {
	contact  *models.Contact
	campaign *models.Campaign
}

// RunCycle performs one scheduling pass for an account. Deferral, the daily
// cap and ledger denials are reported, not returned as errors.
func (s *Scheduler) RunCycle(ctx context.Context, accountID string) (CycleReport, error) {
	report := CycleReport{AccountID: accountID}
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		return s.cycle(ctx, g, &report)
	})
	return report, err
}

func (s *Scheduler) cycle(ctx context.Context, g *state.Aggregate, report *CycleReport) error {
	acct := g.Account
	if !acct.Active {
		report.Skipped = true
		return nil
	}
	settings := acct.Settings
	w, err := NewWindow(settings.WorkingHours)
	if err != nil {
		return err
	}
	now := s.now()
	if !w.Contains(now) {
		report.Deferred = true
		report.NextOpen = w.NextOpen(now)
		s.log.Debugw("outside working hours", "account", acct.ID, "next_open", report.NextOpen)
		return nil
	}

	day := w.Day(now)
	g.Sends.CountFor(day)

	campaigns := activeCampaigns(g)
	var cands []candidate
	for _, camp := range campaigns {
		for _, c := range g.CampaignContacts(camp.ID) {
			if c.Profile.OptedOut {
				continue
			}
			switch c.Status {
			case models.StatusPending:
				cands = append(cands, candidate{c, camp})
			case models.StatusDeclined, models.StatusCooldown:
				next, moved := s.revisit(ctx, g, c, now, report)
				if moved && next.Status == models.StatusPending {
					cands = append(cands, candidate{next, camp})
				}
			}
		}
	}
	sortCandidates(cands)

	tracked := make(map[string]context.Context, len(campaigns))
	for _, camp := range campaigns {
		cctx, done := s.track(ctx, camp.ID)
		defer done()
		tracked[camp.ID] = cctx
	}

	exhausted := make(map[string]bool)
	for _, cand := range cands {
		if ctx.Err() != nil {
			break
		}
		camp := cand.campaign
		cctx := tracked[camp.ID]
		if cctx.Err() != nil || exhausted[camp.ID] {
			continue
		}
		if g.Sends.Count >= settings.MaxDailyOutreach {
			report.CapReached = true
			break
		}

		tmpl := camp.ConnectionNote
		if tmpl == "" {
			tmpl = s.defaultNote
		}
		note := renderNote(tmpl, cand.contact.Profile)
		if noteLen(note) > models.MaxConnectionNoteLen {
			s.log.Warnw("connection note too long", "contact", cand.contact.ID, "length", noteLen(note), "err", models.ErrContentTooLong)
			report.Failed = append(report.Failed, cand.contact.ID)
			continue
		}

		res, err := s.ledger.Authorize(ctx, acct.ID, CostPerConnection, &ledger.CampaignBudget{CampaignID: camp.ID, Limit: camp.CreditLimit})
		switch {
		case errors.Is(err, models.ErrCampaignBudgetExhausted):
			exhausted[camp.ID] = true
			report.Exhausted = append(report.Exhausted, camp.ID)
			s.pub.Publish(events.Event{Type: events.CampaignHalted, AccountID: acct.ID, At: now,
				Data: map[string]string{"campaign_id": camp.ID, "reason": "campaign credit limit reached"}})
			continue
		case errors.Is(err, models.ErrInsufficientCredits):
			s.halt(acct.ID, report, "insufficient credits", now)
		case err != nil:
			s.halt(acct.ID, report, err.Error(), now)
			return fmt.Errorf("authorize: %w", err)
		}
		if report.Halted {
			break
		}

		g.Sends.Count++
		s.recordSend(ctx, acct.ID, g.Sends)

		if err := s.send(ctx, cctx, g, cand, note, res); err != nil {
			g.Sends.Count--
			s.recordSend(ctx, acct.ID, g.Sends)
			report.Failed = append(report.Failed, cand.contact.ID)
			continue
		}
		report.Sent = append(report.Sent, cand.contact.ID)
	}

	s.complete(ctx, g, campaigns, now, report)
	if len(report.Sent) > 0 || report.Halted {
		s.log.Infow("cycle finished", "account", acct.ID, "sent", len(report.Sent), "failed", len(report.Failed),
			"today", g.Sends.Count, "halted", report.Halted)
	}
	return nil
}

// SendNow sends a connection request to one contact outside the cycle. A
// declined or cooldown contact is reactivated first once its cooldown has
// elapsed, and refused with ErrCooldownActive before that. Unlike a cycle it
// surfaces every refusal as an error.
func (s *Scheduler) SendNow(ctx context.Context, contactID string) error {
	return s.reg.UpdateOwner(state.KindContact, contactID, func(g *state.Aggregate) error {
		c, ok := g.Contacts[contactID]
		if !ok {
			return fmt.Errorf("contact %s: %w", contactID, models.ErrNotFound)
		}
		camp, ok := g.Campaigns[c.CampaignID]
		if !ok {
			return fmt.Errorf("campaign %s: %w", c.CampaignID, models.ErrNotFound)
		}
		if !g.Account.Active {
			return models.ErrAccountInactive
		}
		if camp.Status != models.CampaignActive {
			return fmt.Errorf("campaign %s: %w", camp.ID, models.ErrCampaignNotActive)
		}
		now := s.now()
		reactivate := false
		switch c.Status {
		case models.StatusPending:
		case models.StatusDeclined, models.StatusCooldown:
			if c.Reactivations >= c.Declines {
				return &models.TransitionError{Entity: "contact " + c.ID, From: string(c.Status), Event: string(contact.SendConnection)}
			}
			if !contact.Reactivatable(c, now, g.Account.Settings.CooldownPeriodDays) {
				return fmt.Errorf("contact %s: %w", c.ID, models.ErrCooldownActive)
			}
			reactivate = true
		default:
			return &models.TransitionError{Entity: "contact " + c.ID, From: string(c.Status), Event: string(contact.SendConnection)}
		}
		w, err := NewWindow(g.Account.Settings.WorkingHours)
		if err != nil {
			return err
		}
		if !w.Contains(now) {
			return fmt.Errorf("next window opens %s: %w", w.NextOpen(now).Format(time.RFC3339), models.ErrOutsideWorkingHours)
		}
		if g.Sends.CountFor(w.Day(now)) >= g.Account.Settings.MaxDailyOutreach {
			return fmt.Errorf("limit %d: %w", g.Account.Settings.MaxDailyOutreach, models.ErrDailyLimitReached)
		}
		tmpl := camp.ConnectionNote
		if tmpl == "" {
			tmpl = s.defaultNote
		}
		note := renderNote(tmpl, c.Profile)
		if noteLen(note) > models.MaxConnectionNoteLen {
			return models.ErrContentTooLong
		}
		if reactivate {
			if c, err = s.reactivate(ctx, g, c, now); err != nil {
				return err
			}
		}
		res, err := s.ledger.Authorize(ctx, g.Account.ID, CostPerConnection, &ledger.CampaignBudget{CampaignID: camp.ID, Limit: camp.CreditLimit})
		if err != nil {
			return err
		}
		cctx, done := s.track(ctx, camp.ID)
		defer done()
		g.Sends.Count++
		s.recordSend(ctx, g.Account.ID, g.Sends)
		if err := s.send(ctx, cctx, g, candidate{c, camp}, note, res); err != nil {
			g.Sends.Count--
			s.recordSend(ctx, g.Account.ID, g.Sends)
			return err
		}
		return nil
	})
}

// send delivers one connection request under an authorized reservation.
func (s *Scheduler) send(ctx, cctx context.Context, g *state.Aggregate, cand candidate, note string, res ledger.Reservation) error {
	c := cand.contact
	dctx := cctx
	if s.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(cctx, s.deliveryTimeout)
		defer cancel()
	}
	if err := s.tr.SendConnection(dctx, c.Clone(), note); err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			s.log.Infow("delivery cancelled, campaign paused", "campaign", cand.campaign.ID, "contact", c.ID)
		} else {
			s.log.Warnw("connection request failed", "contact", c.ID, "err", err)
		}
		if rerr := s.ledger.Release(context.WithoutCancel(ctx), res.Token); rerr != nil {
			s.log.Errorw("release reservation failed", "token", res.Token, "err", rerr)
		}
		return err
	}
	if err := s.ledger.Settle(res.Token); err != nil {
		s.log.Errorw("settle reservation failed", "token", res.Token, "err", err)
	}

	now := s.now()
	next := c.Clone()
	if err := contact.Apply(next, contact.SendConnection, now, g.Account.Settings.CooldownPeriodDays); err != nil {
		return err
	}
	if err := s.reg.Journal().SaveContact(ctx, next); err != nil {
		s.log.Errorw("contact not persisted", "contact", c.ID, "err", err)
	}
	g.Contacts[c.ID] = next
	if _, err := s.conv.OpenIn(ctx, g, next); err != nil {
		s.log.Errorw("open conversation failed", "contact", c.ID, "err", err)
	}
	s.pub.Publish(events.Event{Type: events.ConnectionAccepted, AccountID: g.Account.ID, At: now,
		Data: map[string]any{"contact_id": c.ID, "campaign_id": cand.campaign.ID, "name": c.Profile.Name}})
	return nil
}

// revisit parks a declined contact in cooldown and brings it back to pending
// once the cooldown elapsed. It reports whether the contact changed.
func (s *Scheduler) revisit(ctx context.Context, g *state.Aggregate, c *models.Contact, now time.Time, report *CycleReport) (*models.Contact, bool) {
	if c.Reactivations >= c.Declines {
		return c, false
	}
	next, err := s.reactivate(ctx, g, c, now)
	switch {
	case err == nil:
		report.Reactivated = append(report.Reactivated, c.ID)
		return next, true
	case errors.Is(err, models.ErrCooldownActive) && next != nil:
		report.Parked = append(report.Parked, c.ID)
		return next, true
	}
	return c, false
}

// reactivate moves a declined or cooldown contact toward pending and stores
// it. While the cooldown runs it returns the parked contact, if it changed,
// together with ErrCooldownActive. A contact back in pending loses its link
// to the ended conversation; that thread stays in the account as history.
func (s *Scheduler) reactivate(ctx context.Context, g *state.Aggregate, c *models.Contact, now time.Time) (*models.Contact, error) {
	next := c.Clone()
	err := contact.Reactivate(next, now, g.Account.Settings.CooldownPeriodDays)
	parked := errors.Is(err, models.ErrCooldownActive) && c.Status == models.StatusDeclined
	if err != nil && !parked {
		return nil, err
	}
	if serr := s.reg.Journal().SaveContact(ctx, next); serr != nil {
		s.log.Errorw("contact not persisted", "contact", c.ID, "err", serr)
		return nil, fmt.Errorf("persist contact: %w", serr)
	}
	g.Contacts[c.ID] = next
	if next.Status == models.StatusPending {
		delete(g.ByContact, c.ID)
	}
	return next, err
}

func (s *Scheduler) halt(accountID string, report *CycleReport, reason string, now time.Time) {
	report.Halted = true
	report.HaltReason = reason
	bal, _ := s.ledger.Balance(accountID)
	s.log.Warnw("sends halted for this cycle", "account", accountID, "reason", reason, "balance", bal)
	s.pub.Publish(events.Event{Type: events.CampaignHalted, AccountID: accountID, At: now,
		Data: map[string]any{"reason": reason, "balance": bal}})
}

func (s *Scheduler) recordSend(ctx context.Context, accountID string, d state.DailySends) {
	if err := s.reg.Journal().RecordSend(ctx, accountID, d.Day, d.Count); err != nil {
		s.log.Errorw("daily send count not persisted", "account", accountID, "err", err)
	}
}

// complete closes active campaigns that have nothing left to send and no
// budget left to send it with: no sendable pending contact, and either the
// campaign credit limit is used up or the account balance is zero.
func (s *Scheduler) complete(ctx context.Context, g *state.Aggregate, campaigns []*models.Campaign, now time.Time, report *CycleReport) {
	balance, err := s.ledger.Balance(g.Account.ID)
	if err != nil {
		s.log.Errorw("balance unavailable, completion skipped", "account", g.Account.ID, "err", err)
		return
	}
	for _, camp := range campaigns {
		if camp.Status != models.CampaignActive || hasPending(g, camp.ID) {
			continue
		}
		limitSpent := camp.CreditLimit > 0 && s.ledger.CampaignSpent(g.Account.ID, camp.ID) >= camp.CreditLimit
		if !limitSpent && balance > 0 {
			continue
		}
		next := *camp
		next.Status = models.CampaignCompleted
		next.UpdatedAt = now
		if err := s.reg.Journal().SaveCampaign(ctx, &next); err != nil {
			s.log.Errorw("campaign not persisted", "campaign", camp.ID, "err", err)
			continue
		}
		g.Campaigns[camp.ID] = &next
		report.Completed = append(report.Completed, camp.ID)
		s.log.Infow("campaign completed", "account", g.Account.ID, "campaign", camp.ID, "balance", balance)
		s.pub.Publish(events.Event{Type: events.CampaignCompleted, AccountID: g.Account.ID, Data: next, At: now})
	}
}

// hasPending reports whether a campaign still has a contact the scheduler
// could send to. Opted-out contacts never count.
func hasPending(g *state.Aggregate, campaignID string) bool {
	for _, c := range g.CampaignContacts(campaignID) {
		if c.Status == models.StatusPending && !c.Profile.OptedOut {
			return true
		}
	}
	return false
}

func activeCampaigns(g *state.Aggregate) []*models.Campaign {
	var out []*models.Campaign
	for _, c := range g.Campaigns {
		if c.Status == models.CampaignActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].contact, cands[j].contact
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		switch {
		case a.ConnectionSentAt == nil && b.ConnectionSentAt != nil:
			return true
		case a.ConnectionSentAt != nil && b.ConnectionSentAt == nil:
			return false
		case a.ConnectionSentAt != nil && !a.ConnectionSentAt.Equal(*b.ConnectionSentAt):
			return a.ConnectionSentAt.Before(*b.ConnectionSentAt)
		}
		return a.ID < b.ID
	})
}
