// Package ledger meters consumable outreach credits per account.
//
// The balance is never stored on its own: it is the running sum of an
// append-only list of CreditTransactions. Authorize is the single
// compare-and-debit point; it holds the account's book lock while it checks
// the balance and appends the debit, so concurrent authorizations on one
// account can never drive the balance negative.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

// Journal persists ledger rows. A failed append rolls the in-memory change back.
type Journal interface {
	AppendCreditTransaction(ctx context.Context, tx *models.CreditTransaction) error
}

// CampaignBudget layers a campaign sub-budget on top of the account balance.
type CampaignBudget struct {
	CampaignID string
	Limit      int // 0 = unlimited
}

type Reservation struct {
	Token      string `json:"token"`
	AccountID  string `json:"account_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	Amount     int    `json:"amount"`
	TxID       string `json:"tx_id"`
}

type reservationState int

const (
	held reservationState = iota
	settled
	released
)

type reservation struct {
	Reservation
	state reservationState
}

type book struct {
	mu            sync.Mutex
	cap           int
	balance       int
	txs           []models.CreditTransaction
	reservations  map[string]*reservation
	campaignSpend map[string]int
}

type Ledger struct {
	mu     sync.RWMutex
	books  map[string]*book
	tokens map[string]string

	journal      Journal
	now          func() time.Time
	lowThreshold int
	onLow        func(accountID string, balance int)
	log          *logging.Logger
}

type Option func(*Ledger)

func WithJournal(j Journal) Option { return func(l *Ledger) { l.journal = j } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithLogger(log *logging.Logger) Option {
	return func(l *Ledger) { l.log = log.With("module", "ledger") }
}

// WithLowBalance registers fn to run when a debit takes the balance to or below threshold.
func WithLowBalance(threshold int, fn func(accountID string, balance int)) Option {
	return func(l *Ledger) {
		l.lowThreshold = threshold
		l.onLow = fn
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		books:  make(map[string]*book),
		tokens: make(map[string]string),
		now:    time.Now,
		log:    logging.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open registers an account with the given credit cap. Reopening only updates the cap.
func (l *Ledger) Open(accountID string, cap int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[accountID]; ok {
		b.mu.Lock()
		b.cap = cap
		b.mu.Unlock()
		return
	}
	l.books[accountID] = newBook(cap)
}

// Restore rebuilds an account book from persisted transactions. Debits whose
// reservation was never released are treated as settled.
func (l *Ledger) Restore(accountID string, cap int, txs []models.CreditTransaction) error {
	b := newBook(cap)
	for _, tx := range txs {
		b.balance += tx.Delta
		if b.balance < 0 {
			return fmt.Errorf("restore %s: balance negative after tx %s", accountID, tx.ID)
		}
		b.txs = append(b.txs, tx)
		if tx.Reservation == "" {
			continue
		}
		switch tx.Reason {
		case models.ReasonConnectionRequest:
			b.reservations[tx.Reservation] = &reservation{
				Reservation: Reservation{Token: tx.Reservation, AccountID: accountID, CampaignID: tx.CampaignID, Amount: -tx.Delta, TxID: tx.ID},
				state:       settled,
			}
			if tx.CampaignID != "" {
				b.campaignSpend[tx.CampaignID] -= tx.Delta
			}
		case models.ReasonReservationRelease:
			if r, ok := b.reservations[tx.Reservation]; ok {
				r.state = released
			}
			if tx.CampaignID != "" {
				b.campaignSpend[tx.CampaignID] -= tx.Delta
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.books[accountID] = b
	for token := range b.reservations {
		l.tokens[token] = accountID
	}
	return nil
}

// Authorize atomically checks the balance (and the campaign sub-budget when
// set) and appends a debit. The returned reservation must be settled or released.
func (l *Ledger) Authorize(ctx context.Context, accountID string, amount int, budget *CampaignBudget) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, models.ErrInvalidAmount
	}
	b, err := l.book(accountID)
	if err != nil {
		return Reservation{}, err
	}

	b.mu.Lock()
	campaignID := ""
	if budget != nil {
		campaignID = budget.CampaignID
	}
	if b.balance < amount {
		bal := b.balance
		b.mu.Unlock()
		l.log.Infow("authorization denied", "account", accountID, "balance", bal, "amount", amount)
		return Reservation{}, fmt.Errorf("account %s has %d credits: %w", accountID, bal, models.ErrInsufficientCredits)
	}
	if budget != nil && budget.Limit > 0 && b.campaignSpend[campaignID]+amount > budget.Limit {
		spent := b.campaignSpend[campaignID]
		b.mu.Unlock()
		l.log.Infow("campaign budget exhausted", "account", accountID, "campaign", campaignID, "spent", spent, "limit", budget.Limit)
		return Reservation{}, fmt.Errorf("campaign %s spent %d of %d: %w", campaignID, spent, budget.Limit, models.ErrCampaignBudgetExhausted)
	}

	token := uuid.NewString()
	tx := models.CreditTransaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Delta:       -amount,
		Reason:      models.ReasonConnectionRequest,
		Reservation: token,
		CampaignID:  campaignID,
		Timestamp:   l.now(),
	}
	if err := l.append(ctx, b, tx); err != nil {
		b.mu.Unlock()
		return Reservation{}, err
	}
	if campaignID != "" {
		b.campaignSpend[campaignID] += amount
	}
	res := Reservation{Token: token, AccountID: accountID, CampaignID: campaignID, Amount: amount, TxID: tx.ID}
	b.reservations[token] = &reservation{Reservation: res}
	prev, bal := b.balance+amount, b.balance
	b.mu.Unlock()

	l.mu.Lock()
	l.tokens[token] = accountID
	l.mu.Unlock()

	if l.onLow != nil && prev > l.lowThreshold && bal <= l.lowThreshold {
		l.onLow(accountID, bal)
	}
	return res, nil
}

// Settle finalizes a reservation. Settling twice is a no-op.
func (l *Ledger) Settle(token string) error {
	b, r, err := l.lookup(token)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.state {
	case held:
		r.state = settled
		return nil
	case settled:
		return nil
	default:
		return fmt.Errorf("settle %s: reservation released: %w", token, models.ErrIllegalStateTransition)
	}
}

// Release reverses an unused reservation with a compensating credit.
// Releasing twice is a no-op; releasing a settled reservation fails.
func (l *Ledger) Release(ctx context.Context, token string) error {
	b, r, err := l.lookup(token)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.state {
	case released:
		return nil
	case settled:
		return models.ErrReservationSettled
	}
	tx := models.CreditTransaction{
		ID:          uuid.NewString(),
		AccountID:   r.AccountID,
		Delta:       r.Amount,
		Reason:      models.ReasonReservationRelease,
		Reservation: r.Token,
		CampaignID:  r.CampaignID,
		Timestamp:   l.now(),
	}
	if err := l.append(ctx, b, tx); err != nil {
		return err
	}
	if r.CampaignID != "" {
		b.campaignSpend[r.CampaignID] -= r.Amount
	}
	r.state = released
	return nil
}

// Credit appends a refill. Purchases and adjustments are never clamped to the cap.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int, reason models.CreditReason) (models.CreditTransaction, error) {
	if amount <= 0 {
		return models.CreditTransaction{}, models.ErrInvalidAmount
	}
	b, err := l.book(accountID)
	if err != nil {
		return models.CreditTransaction{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tx := models.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Delta:     amount,
		Reason:    reason,
		Timestamp: l.now(),
	}
	if err := l.append(ctx, b, tx); err != nil {
		return models.CreditTransaction{}, err
	}
	return tx, nil
}

// Refill tops the balance up to the account cap. It reports false when the
// balance is already at or above the cap.
func (l *Ledger) Refill(ctx context.Context, accountID string) (models.CreditTransaction, bool, error) {
	b, err := l.book(accountID)
	if err != nil {
		return models.CreditTransaction{}, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	missing := b.cap - b.balance
	if missing <= 0 {
		return models.CreditTransaction{}, false, nil
	}
	tx := models.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Delta:     missing,
		Reason:    models.ReasonMonthlyRefill,
		Timestamp: l.now(),
	}
	if err := l.append(ctx, b, tx); err != nil {
		return models.CreditTransaction{}, false, err
	}
	return tx, true, nil
}

func (l *Ledger) Balance(accountID string) (int, error) {
	b, err := l.book(accountID)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

func (l *Ledger) Cap(accountID string) (int, error) {
	b, err := l.book(accountID)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap, nil
}

// Transactions returns a copy of the account's audit trail in append order.
func (l *Ledger) Transactions(accountID string) []models.CreditTransaction {
	b, err := l.book(accountID)
	if err != nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.CreditTransaction, len(b.txs))
	copy(out, b.txs)
	return out
}

// CampaignSpent returns credits debited for a campaign and not released.
func (l *Ledger) CampaignSpent(accountID, campaignID string) int {
	b, err := l.book(accountID)
	if err != nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.campaignSpend[campaignID]
}

func (l *Ledger) append(ctx context.Context, b *book, tx models.CreditTransaction) error {
	if b.balance+tx.Delta < 0 {
		return models.ErrInsufficientCredits
	}
	if l.journal != nil {
		if err := l.journal.AppendCreditTransaction(ctx, &tx); err != nil {
			return fmt.Errorf("persist credit transaction: %w", err)
		}
	}
	b.txs = append(b.txs, tx)
	b.balance += tx.Delta
	return nil
}

func (l *Ledger) book(accountID string) (*book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[accountID]
	if !ok {
		return nil, fmt.Errorf("ledger account %s: %w", accountID, models.ErrNotFound)
	}
	return b, nil
}

func (l *Ledger) lookup(token string) (*book, *reservation, error) {
	l.mu.RLock()
	accountID, ok := l.tokens[token]
	var b *book
	if ok {
		b = l.books[accountID]
	}
	l.mu.RUnlock()
	if b == nil {
		return nil, nil, fmt.Errorf("reservation %s: %w", token, models.ErrUnknownReservation)
	}
	b.mu.Lock()
	r, ok := b.reservations[token]
	b.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("reservation %s: %w", token, models.ErrUnknownReservation)
	}
	return b, r, nil
}

func newBook(cap int) *book {
	return &book{
		cap:           cap,
		reservations:  make(map[string]*reservation),
		campaignSpend: make(map[string]int),
	}
}
