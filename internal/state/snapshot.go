package state

import (
	"context"
	"fmt"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

type SendDay struct {
	AccountID string
	Day       string
	Count     int
}

// Snapshot is the persisted state loaded at startup.
type Snapshot struct {
	Accounts      []models.Account
	Campaigns     []models.Campaign
	Contacts      []models.Contact
	Conversations []models.Conversation
	Leads         []models.Lead
	Approvals     []models.Approval
	Sends         []SendDay
	Transactions  []models.CreditTransaction
}

// Restore loads a snapshot into an empty registry.
func (r *Registry) Restore(s *Snapshot) error {
	for i := range s.Accounts {
		a := s.Accounts[i]
		r.AddAccount(&a)
	}
	for i := range s.Campaigns {
		c := s.Campaigns[i]
		if err := r.Update(c.AccountID, func(g *Aggregate) error {
			g.Campaigns[c.ID] = &c
			return nil
		}); err != nil {
			return fmt.Errorf("restore campaign %s: %w", c.ID, err)
		}
		r.Index(KindCampaign, c.ID, c.AccountID)
	}
	for i := range s.Contacts {
		c := s.Contacts[i]
		if err := r.Update(c.AccountID, func(g *Aggregate) error {
			g.Contacts[c.ID] = &c
			return nil
		}); err != nil {
			return fmt.Errorf("restore contact %s: %w", c.ID, err)
		}
		r.Index(KindContact, c.ID, c.AccountID)
	}
	for i := range s.Conversations {
		c := s.Conversations[i]
		if err := r.Update(c.AccountID, func(g *Aggregate) error {
			g.Conversations[c.ID] = &c
			linkConversation(g, &c)
			return nil
		}); err != nil {
			return fmt.Errorf("restore conversation %s: %w", c.ID, err)
		}
		r.Index(KindConversation, c.ID, c.AccountID)
		for _, m := range c.Messages {
			r.Index(KindMessage, m.ID, c.AccountID)
		}
	}
	for i := range s.Leads {
		l := s.Leads[i]
		if err := r.Update(l.AccountID, func(g *Aggregate) error {
			g.Leads[l.ConversationID] = &l
			return nil
		}); err != nil {
			return fmt.Errorf("restore lead %s: %w", l.ID, err)
		}
		r.Index(KindLead, l.ID, l.AccountID)
	}
	for i := range s.Approvals {
		a := s.Approvals[i]
		if err := r.Update(a.AccountID, func(g *Aggregate) error {
			g.Approvals[a.ID] = &a
			return nil
		}); err != nil {
			return fmt.Errorf("restore approval %s: %w", a.ID, err)
		}
		r.Index(KindApproval, a.ID, a.AccountID)
	}
	for _, d := range s.Sends {
		_ = r.Update(d.AccountID, func(g *Aggregate) error {
			if d.Day > g.Sends.Day {
				g.Sends = DailySends{Day: d.Day, Count: d.Count}
			}
			return nil
		})
	}
	return nil
}

// linkConversation points the contact at its newest thread. A contact back in
// pending has none; its ended threads are history only.
func linkConversation(g *Aggregate, c *models.Conversation) {
	if ct, ok := g.Contacts[c.ContactID]; ok && ct.Status == models.StatusPending {
		return
	}
	if cur, ok := g.Conversations[g.ByContact[c.ContactID]]; ok && cur.ID != c.ID && cur.CreatedAt.After(c.CreatedAt) {
		return
	}
	g.ByContact[c.ContactID] = c.ID
}

// Nop discards every write.
type Nop struct{}

func (Nop) SaveAccount(context.Context, *models.Account) error           { return nil }
func (Nop) SaveCampaign(context.Context, *models.Campaign) error         { return nil }
func (Nop) SaveContact(context.Context, *models.Contact) error           { return nil }
func (Nop) SaveConversation(context.Context, *models.Conversation) error { return nil }
func (Nop) AppendMessage(context.Context, *models.Message) error         { return nil }
func (Nop) SaveLead(context.Context, *models.Lead) error                 { return nil }
func (Nop) SaveApproval(context.Context, *models.Approval) error         { return nil }
func (Nop) AppendFeedback(context.Context, *models.Feedback) error       { return nil }
func (Nop) RecordSend(context.Context, string, string, int) error        { return nil }
