package outreach

import (
	"context"
	"fmt"
	"sort"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/autonomy"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/conversation"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/scheduler"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

func (s *Service) HandleInbound(ctx context.Context, in conversation.Inbound) (*models.Message, error) {
	return s.conv.HandleInbound(ctx, in)
}

func (s *Service) RequestTurn(ctx context.Context, conversationID string, d conversation.Draft) (conversation.TurnResult, error) {
	return s.conv.RequestTurn(ctx, conversationID, d)
}

func (s *Service) SendManualMessage(ctx context.Context, conversationID, content string) (*models.Message, error) {
	return s.conv.SendManualMessage(ctx, conversationID, content)
}

func (s *Service) Approve(ctx context.Context, approvalID string) (*models.Message, error) {
	return s.conv.Approve(ctx, approvalID)
}

func (s *Service) Reject(ctx context.Context, approvalID string) error {
	return s.conv.Reject(ctx, approvalID)
}

func (s *Service) ProvideFeedback(ctx context.Context, messageID string, rating models.Rating) error {
	return s.conv.ProvideFeedback(ctx, messageID, rating)
}

func (s *Service) ArchiveLead(ctx context.Context, leadID string) (*models.Lead, error) {
	return s.leads.Archive(ctx, leadID)
}

// AccountView is an account with its credit position.
type AccountView struct {
	models.Account
	Balance int           `json:"balance"`
	Band    autonomy.Band `json:"band"`
}

// Dashboard summarizes one account for the overview screen.
type Dashboard struct {
	AccountID        string                       `json:"account_id"`
	Balance          int                          `json:"balance"`
	CreditCap        int                          `json:"credit_cap"`
	CreditsUsedToday int                          `json:"credits_used_today"`
	SendsToday       int                          `json:"sends_today"`
	SendsRemaining   int                          `json:"sends_remaining"`
	Band             autonomy.Band                `json:"band"`
	ActiveCampaigns  int                          `json:"active_campaigns"`
	Contacts         map[models.ContactStatus]int `json:"contacts"`
	Leads            map[models.Priority]int      `json:"leads"`
	PendingApprovals int                          `json:"pending_approvals"`
}

func (s *Service) Account(accountID string) (*AccountView, error) {
	var v AccountView
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		v.Account = *g.Account
		return nil
	})
	if err != nil {
		return nil, err
	}
	if v.Balance, err = s.ledger.Balance(accountID); err != nil {
		return nil, err
	}
	v.Band = autonomy.BandOf(v.Temperature)
	return &v, nil
}

// Campaigns lists an account's campaigns by creation time.
func (s *Service) Campaigns(accountID string) ([]models.Campaign, error) {
	var out []models.Campaign
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		for _, c := range g.Campaigns {
			out = append(out, *c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *Service) Campaign(campaignID string) (*models.Campaign, error) {
	var out models.Campaign
	err := s.reg.UpdateOwner(state.KindCampaign, campaignID, func(g *state.Aggregate) error {
		c, ok := g.Campaigns[campaignID]
		if !ok {
			return fmt.Errorf("campaign %s: %w", campaignID, models.ErrNotFound)
		}
		out = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Contacts lists a campaign's contacts by id.
func (s *Service) Contacts(campaignID string) ([]models.Contact, error) {
	var out []models.Contact
	err := s.reg.UpdateOwner(state.KindCampaign, campaignID, func(g *state.Aggregate) error {
		for _, c := range g.CampaignContacts(campaignID) {
			out = append(out, *c.Clone())
		}
		return nil
	})
	return out, err
}

func (s *Service) Contact(contactID string) (*models.Contact, error) {
	var out *models.Contact
	err := s.reg.UpdateOwner(state.KindContact, contactID, func(g *state.Aggregate) error {
		c, ok := g.Contacts[contactID]
		if !ok {
			return fmt.Errorf("contact %s: %w", contactID, models.ErrNotFound)
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

func (s *Service) Conversation(conversationID string) (*models.Conversation, error) {
	return s.conv.Conversation(conversationID)
}

// Conversations lists an account's conversations, most recently updated first.
func (s *Service) Conversations(accountID string) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		for _, c := range g.Conversations {
			out = append(out, *c.Clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

type LeadSort string

const (
	LeadsByDate     LeadSort = "date"
	LeadsByPriority LeadSort = "priority"
	LeadsByScore    LeadSort = "score"
)

// LeadQuery narrows and orders the lead list. The zero value lists active
// leads of every priority, newest first.
type LeadQuery struct {
	Archived bool
	Priority models.Priority
	Sort     LeadSort
}

var priorityRank = map[models.Priority]int{
	models.PriorityHigh:   0,
	models.PriorityMedium: 1,
	models.PriorityLow:    2,
}

// Leads lists an account's leads. Archived leads are included only when
// asked for. Ties fall back to newest first, then id.
func (s *Service) Leads(accountID string, q LeadQuery) ([]models.Lead, error) {
	if _, ok := priorityRank[q.Priority]; q.Priority != "" && !ok {
		return nil, fmt.Errorf("priority %q: %w", q.Priority, models.ErrInvalidLeadQuery)
	}
	switch q.Sort {
	case "", LeadsByDate, LeadsByPriority, LeadsByScore:
	default:
		return nil, fmt.Errorf("sort %q: %w", q.Sort, models.ErrInvalidLeadQuery)
	}

	var out []models.Lead
	score := make(map[string]int)
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		for _, l := range g.Leads {
			if l.Archived && !q.Archived {
				continue
			}
			if q.Priority != "" && l.Priority != q.Priority {
				continue
			}
			cp := *l
			cp.KeyPoints = append([]string(nil), l.KeyPoints...)
			cp.NextSteps = append([]string(nil), l.NextSteps...)
			out = append(out, cp)
			if c, ok := g.Contacts[l.ContactID]; ok {
				score[l.ID] = c.MatchScore
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch q.Sort {
		case LeadsByPriority:
			if priorityRank[a.Priority] != priorityRank[b.Priority] {
				return priorityRank[a.Priority] < priorityRank[b.Priority]
			}
		case LeadsByScore:
			if score[a.ID] != score[b.ID] {
				return score[a.ID] > score[b.ID]
			}
		}
		if !a.ConvertedAt.Equal(b.ConvertedAt) {
			return a.ConvertedAt.After(b.ConvertedAt)
		}
		return a.ID < b.ID
	})
	return out, err
}

// Approvals lists pending approvals, oldest first.
func (s *Service) Approvals(accountID string) ([]models.Approval, error) {
	var out []models.Approval
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		for _, a := range g.Approvals {
			if a.Status == models.ApprovalPending {
				out = append(out, *a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *Service) Transactions(accountID string) ([]models.CreditTransaction, error) {
	if _, err := s.ledger.Balance(accountID); err != nil {
		return nil, err
	}
	return s.ledger.Transactions(accountID), nil
}

func (s *Service) Dashboard(accountID string) (*Dashboard, error) {
	d := &Dashboard{
		AccountID: accountID,
		Contacts:  make(map[models.ContactStatus]int),
		Leads:     make(map[models.Priority]int),
	}
	var day string
	var w scheduler.Window
	err := s.reg.Update(accountID, func(g *state.Aggregate) error {
		acct := g.Account
		w, _ = scheduler.NewWindow(acct.Settings.WorkingHours)
		day = w.Day(s.now())
		if g.Sends.Day == day {
			d.SendsToday = g.Sends.Count
		}
		d.SendsRemaining = max(acct.Settings.MaxDailyOutreach-d.SendsToday, 0)
		d.Band = autonomy.BandOf(acct.Temperature)
		for _, c := range g.Campaigns {
			if c.Status == models.CampaignActive {
				d.ActiveCampaigns++
			}
		}
		for _, c := range g.Contacts {
			d.Contacts[c.Status]++
		}
		for _, l := range g.Leads {
			if !l.Archived {
				d.Leads[l.Priority]++
			}
		}
		for _, a := range g.Approvals {
			if a.Status == models.ApprovalPending {
				d.PendingApprovals++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if d.Balance, err = s.ledger.Balance(accountID); err != nil {
		return nil, err
	}
	d.CreditCap, _ = s.ledger.Cap(accountID)
	for _, tx := range s.ledger.Transactions(accountID) {
		if w.Day(tx.Timestamp) != day {
			continue
		}
		switch tx.Reason {
		case models.ReasonConnectionRequest, models.ReasonReservationRelease:
			d.CreditsUsedToday -= tx.Delta
		}
	}
	return d, nil
}
