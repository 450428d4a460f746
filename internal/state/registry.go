// Package state owns the per-account aggregates. Every mutation of an
// account, its campaigns, contacts, conversations and leads happens inside
// Registry.Update, which serializes writers per account while different
// accounts proceed in parallel.
package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

// Journal is the write-through persistence sink.
type Journal interface {
	SaveAccount(ctx context.Context, a *models.Account) error
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	SaveContact(ctx context.Context, c *models.Contact) error
	SaveConversation(ctx context.Context, c *models.Conversation) error
	AppendMessage(ctx context.Context, m *models.Message) error
	SaveLead(ctx context.Context, l *models.Lead) error
	SaveApproval(ctx context.Context, a *models.Approval) error
	AppendFeedback(ctx context.Context, f *models.Feedback) error
	RecordSend(ctx context.Context, accountID, day string, count int) error
}

// Aggregate is everything owned by one account.
type Aggregate struct {
	Account       *models.Account
	Campaigns     map[string]*models.Campaign
	Contacts      map[string]*models.Contact
	Conversations map[string]*models.Conversation
	// ByContact maps contact id to conversation id.
	ByContact map[string]string
	// Leads is keyed by conversation id.
	Leads     map[string]*models.Lead
	Approvals map[string]*models.Approval
	Sends     DailySends
}

// DailySends counts connection requests for one account-local calendar day.
type DailySends struct {
	Day   string
	Count int
}

// CountFor returns the count for day, resetting the counter when the day changed.
func (d *DailySends) CountFor(day string) int {
	if d.Day != day {
		d.Day = day
		d.Count = 0
	}
	return d.Count
}

func newAggregate(a *models.Account) *Aggregate {
	return &Aggregate{
		Account:       a,
		Campaigns:     make(map[string]*models.Campaign),
		Contacts:      make(map[string]*models.Contact),
		Conversations: make(map[string]*models.Conversation),
		ByContact:     make(map[string]string),
		Leads:         make(map[string]*models.Lead),
		Approvals:     make(map[string]*models.Approval),
	}
}

// CampaignContacts returns the contacts of a campaign sorted by id.
func (g *Aggregate) CampaignContacts(campaignID string) []*models.Contact {
	var out []*models.Contact
	for _, c := range g.Contacts {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConversationFor returns the conversation opened for a contact, if any.
func (g *Aggregate) ConversationFor(contactID string) (*models.Conversation, bool) {
	id, ok := g.ByContact[contactID]
	if !ok {
		return nil, false
	}
	c, ok := g.Conversations[id]
	return c, ok
}

type Kind string

const (
	KindCampaign     Kind = "campaign"
	KindContact      Kind = "contact"
	KindConversation Kind = "conversation"
	KindMessage      Kind = "message"
	KindApproval     Kind = "approval"
	KindLead         Kind = "lead"
)

type entry struct {
	mu  sync.Mutex
	agg *Aggregate
}

type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*entry
	owners   map[Kind]map[string]string
	journal  Journal
}

func NewRegistry(j Journal) *Registry {
	if j == nil {
		j = Nop{}
	}
	return &Registry{
		accounts: make(map[string]*entry),
		owners:   make(map[Kind]map[string]string),
		journal:  j,
	}
}

func (r *Registry) Journal() Journal { return r.journal }

// AddAccount registers a new aggregate. It is a no-op for a known account id.
func (r *Registry) AddAccount(a *models.Account) *Aggregate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.accounts[a.ID]; ok {
		return e.agg
	}
	e := &entry{agg: newAggregate(a)}
	r.accounts[a.ID] = e
	return e.agg
}

// Index records which account owns an entity id.
func (r *Registry) Index(kind Kind, id, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.owners[kind]
	if !ok {
		m = make(map[string]string)
		r.owners[kind] = m
	}
	m[id] = accountID
}

// Owner resolves the owning account of an entity id.
func (r *Registry) Owner(kind Kind, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if accountID, ok := r.owners[kind][id]; ok {
		return accountID, nil
	}
	return "", fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

// AccountIDs lists registered accounts in id order.
func (r *Registry) AccountIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Update runs fn with exclusive access to the account aggregate.
func (r *Registry) Update(accountID string, fn func(*Aggregate) error) error {
	r.mu.RLock()
	e, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.agg)
}

// UpdateOwner resolves the owner of an entity and runs fn under its lock.
func (r *Registry) UpdateOwner(kind Kind, id string, fn func(*Aggregate) error) error {
	accountID, err := r.Owner(kind, id)
	if err != nil {
		return err
	}
	return r.Update(accountID, fn)
}
