// Package outreach is the surface the presentation client talks to. It wires
// the ledger, the account registry, the conversation engine, the lead
// pipeline and the scheduler together and exposes their operations and read
// models per account.
package outreach

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/conversation"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/leads"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/ledger"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/scheduler"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/transport"
)

// Journal is the persistence the service writes through. *store.Store
// implements it.
type Journal interface {
	state.Journal
	ledger.Journal
}

type options struct {
	classifier conversation.Classifier
	drafter    conversation.Drafter
	qualifier  leads.Qualifier
	publisher  events.Publisher
	now        func() time.Time
	log        *logging.Logger
}

type Option func(*options)

func WithClassifier(c conversation.Classifier) Option { return func(o *options) { o.classifier = c } }

func WithDrafter(d conversation.Drafter) Option { return func(o *options) { o.drafter = d } }

func WithQualifier(q leads.Qualifier) Option { return func(o *options) { o.qualifier = q } }

// WithPublisher receives every event next to the service's own bus.
func WithPublisher(p events.Publisher) Option { return func(o *options) { o.publisher = p } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(log *logging.Logger) Option { return func(o *options) { o.log = log } }

type Service struct {
	cfg    *config.Config
	reg    *state.Registry
	ledger *ledger.Ledger
	leads  *leads.Service
	conv   *conversation.Engine
	sched  *scheduler.Scheduler
	bus    *events.Bus
	pub    events.Publisher
	now    func() time.Time
	log    *logging.Logger

	refillMu sync.Mutex
	// refilled maps account id to the "2006-01" month of its last refill.
	refilled map[string]string
}

// New builds an empty service. j may be nil for an in-memory service.
func New(cfg *config.Config, j Journal, tr transport.Transport, opts ...Option) *Service {
	o := options{now: time.Now, log: logging.Nop()}
	for _, fn := range opts {
		fn(&o)
	}

	s := &Service{
		cfg:      cfg,
		bus:      events.NewBus(0),
		now:      o.now,
		log:      o.log.With("module", "outreach"),
		refilled: make(map[string]string),
	}
	s.pub = s.bus
	if o.publisher != nil {
		s.pub = fanout{s.bus, o.publisher}
	}

	var sj state.Journal
	ledgerOpts := []ledger.Option{
		ledger.WithClock(o.now),
		ledger.WithLogger(o.log),
		ledger.WithLowBalance(cfg.Credits.LowThreshold, s.creditLow),
	}
	if j != nil {
		sj = j
		ledgerOpts = append(ledgerOpts, ledger.WithJournal(j))
	}
	s.reg = state.NewRegistry(sj)
	s.ledger = ledger.New(ledgerOpts...)

	leadOpts := []leads.Option{leads.WithPublisher(s.pub), leads.WithClock(o.now), leads.WithLogger(o.log)}
	if o.qualifier != nil {
		leadOpts = append(leadOpts, leads.WithQualifier(o.qualifier))
	}
	s.leads = leads.New(s.reg, leadOpts...)

	convOpts := []conversation.Option{
		conversation.WithLeads(s.leads),
		conversation.WithPublisher(s.pub),
		conversation.WithClock(o.now),
		conversation.WithLogger(o.log),
	}
	if o.classifier != nil {
		convOpts = append(convOpts, conversation.WithClassifier(o.classifier))
	}
	if o.drafter != nil {
		convOpts = append(convOpts, conversation.WithDrafter(o.drafter))
	}
	s.conv = conversation.New(s.reg, tr, cfg, convOpts...)

	s.sched = scheduler.New(s.reg, s.ledger, s.conv, tr, cfg,
		scheduler.WithPublisher(s.pub),
		scheduler.WithClock(o.now),
		scheduler.WithLogger(o.log),
		scheduler.WithTickHook(s.refillDue),
	)
	return s
}

type fanout []events.Publisher

func (f fanout) Publish(ev events.Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}

// Restore loads persisted state into an empty service.
func (s *Service) Restore(snap *state.Snapshot) error {
	if err := s.reg.Restore(snap); err != nil {
		return err
	}
	byAccount := make(map[string][]models.CreditTransaction)
	for _, tx := range snap.Transactions {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}
	s.refillMu.Lock()
	defer s.refillMu.Unlock()
	for _, a := range snap.Accounts {
		txs := byAccount[a.ID]
		if err := s.ledger.Restore(a.ID, a.CreditCap, txs); err != nil {
			return fmt.Errorf("restore ledger %s: %w", a.ID, err)
		}
		month := a.CreatedAt.UTC().Format("2006-01")
		for _, tx := range txs {
			if tx.Reason == models.ReasonMonthlyRefill {
				if m := tx.Timestamp.UTC().Format("2006-01"); m > month {
					month = m
				}
			}
		}
		s.refilled[a.ID] = month
	}
	s.log.Infow("state restored", "accounts", len(snap.Accounts), "contacts", len(snap.Contacts),
		"conversations", len(snap.Conversations), "transactions", len(snap.Transactions))
	return nil
}

// Events returns a subscription to one account's events.
func (s *Service) Events(accountID string) (<-chan events.Event, func()) {
	return s.bus.Subscribe(accountID)
}

// Owner resolves the account owning an entity.
func (s *Service) Owner(kind state.Kind, id string) (string, error) {
	return s.reg.Owner(kind, id)
}

// Run drives the control loop until ctx is done.
func (s *Service) Run(ctx context.Context) error { return s.sched.Run(ctx) }

func (s *Service) RunCycle(ctx context.Context, accountID string) (scheduler.CycleReport, error) {
	return s.sched.RunCycle(ctx, accountID)
}

func (s *Service) RunAll(ctx context.Context) []scheduler.CycleReport { return s.sched.RunAll(ctx) }

func (s *Service) SendNow(ctx context.Context, contactID string) error {
	return s.sched.SendNow(ctx, contactID)
}

func (s *Service) SweepStale(ctx context.Context) (int, error) { return s.conv.SweepStale(ctx) }

func (s *Service) creditLow(accountID string, balance int) {
	s.log.Warnw("credit balance low", "account", accountID, "balance", balance)
	s.pub.Publish(events.Event{Type: events.CreditLow, AccountID: accountID, At: s.now(),
		Data: map[string]int{"balance": balance, "threshold": s.cfg.Credits.LowThreshold}})
}

// refillDue tops accounts up to their cap once per calendar month.
func (s *Service) refillDue(ctx context.Context) {
	month := s.now().UTC().Format("2006-01")
	for _, id := range s.reg.AccountIDs() {
		s.refillMu.Lock()
		due := s.refilled[id] < month
		s.refillMu.Unlock()
		if !due {
			continue
		}
		if _, err := s.refill(ctx, id, month); err != nil {
			s.log.Warnw("monthly refill failed", "account", id, "err", err)
		}
	}
}

// RefillAll tops every account up to its cap now, whatever the month.
func (s *Service) RefillAll(ctx context.Context) ([]models.CreditTransaction, error) {
	month := s.now().UTC().Format("2006-01")
	var out []models.CreditTransaction
	for _, id := range s.reg.AccountIDs() {
		tx, err := s.refill(ctx, id, month)
		if err != nil {
			return out, err
		}
		if tx != nil {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *Service) refill(ctx context.Context, accountID, month string) (*models.CreditTransaction, error) {
	tx, ok, err := s.ledger.Refill(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("refill %s: %w", accountID, err)
	}
	s.refillMu.Lock()
	s.refilled[accountID] = month
	s.refillMu.Unlock()
	if !ok {
		return nil, nil
	}
	s.log.Infow("credits refilled", "account", accountID, "credits", tx.Delta)
	return &tx, nil
}
