package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

// Load reads the whole persisted state. Queries run one after another and
// never nest, since the pool holds a single connection.
func (s *Store) Load(ctx context.Context) (*state.Snapshot, error) {
	snap := &state.Snapshot{}
	steps := []struct {
		name string
		fn   func(context.Context, *state.Snapshot) error
	}{
		{"accounts", s.loadAccounts},
		{"campaigns", s.loadCampaigns},
		{"contacts", s.loadContacts},
		{"conversations", s.loadConversations},
		{"messages", s.loadMessages},
		{"leads", s.loadLeads},
		{"approvals", s.loadApprovals},
		{"daily_sends", s.loadSends},
		{"credit_transactions", s.loadTransactions},
	}
	for _, step := range steps {
		if err := step.fn(ctx, snap); err != nil {
			return nil, fmt.Errorf("load %s: %w", step.name, err)
		}
	}
	return snap, nil
}

func (s *Store) loadAccounts(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, credit_cap, temperature, settings, active, created_at, updated_at FROM accounts ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Account
		var settings, created, updated string
		var active int
		if err := rows.Scan(&a.ID, &a.Name, &a.CreditCap, &a.Temperature, &settings, &active, &created, &updated); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(settings), &a.Settings); err != nil {
			return err
		}
		a.Active = active == 1
		if a.CreatedAt, err = parseTS(created); err != nil {
			return err
		}
		if a.UpdatedAt, err = parseTS(updated); err != nil {
			return err
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	return rows.Err()
}

func (s *Store) loadCampaigns(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, name, filters, status, credit_limit, connection_note, qualifications, created_at, updated_at FROM campaigns ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Campaign
		var filters, status, created, updated string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &filters, &status, &c.CreditLimit, &c.ConnectionNote, &c.Qualifications, &created, &updated); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(filters), &c.Filters); err != nil {
			return err
		}
		c.Status = models.CampaignStatus(status)
		if c.CreatedAt, err = parseTS(created); err != nil {
			return err
		}
		if c.UpdatedAt, err = parseTS(updated); err != nil {
			return err
		}
		snap.Campaigns = append(snap.Campaigns, c)
	}
	return rows.Err()
}

func (s *Store) loadContacts(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, campaign_id, account_id, profile, match_score, status, connection_sent_at, last_activity, cooldown_until, declines, reactivations, history, created_at FROM contacts ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Contact
		var profile, status, history, created string
		var sentAt, lastActivity, cooldown sql.NullString
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.AccountID, &profile, &c.MatchScore, &status, &sentAt, &lastActivity, &cooldown, &c.Declines, &c.Reactivations, &history, &created); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(profile), &c.Profile); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(history), &c.History); err != nil {
			return err
		}
		c.Status = models.ContactStatus(status)
		if c.ConnectionSentAt, err = parseNullTS(sentAt); err != nil {
			return err
		}
		if c.LastActivity, err = parseNullTS(lastActivity); err != nil {
			return err
		}
		if c.CooldownUntil, err = parseNullTS(cooldown); err != nil {
			return err
		}
		if c.CreatedAt, err = parseTS(created); err != nil {
			return err
		}
		snap.Contacts = append(snap.Contacts, c)
	}
	return rows.Err()
}

func (s *Store) loadConversations(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, contact_id, campaign_id, account_id, sentiment, status, summary, key_points, next_steps, last_inbound_at, created_at, updated_at FROM conversations ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Conversation
		var sentiment, status, keyPoints, nextSteps, created, updated string
		var lastInbound sql.NullString
		if err := rows.Scan(&c.ID, &c.ContactID, &c.CampaignID, &c.AccountID, &sentiment, &status, &c.Summary, &keyPoints, &nextSteps, &lastInbound, &created, &updated); err != nil {
			return err
		}
		c.Sentiment = models.Sentiment(sentiment)
		c.Status = models.ConversationStatus(status)
		if err := json.Unmarshal([]byte(keyPoints), &c.KeyPoints); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(nextSteps), &c.NextSteps); err != nil {
			return err
		}
		if c.LastInboundAt, err = parseNullTS(lastInbound); err != nil {
			return err
		}
		if c.CreatedAt, err = parseTS(created); err != nil {
			return err
		}
		if c.UpdatedAt, err = parseTS(updated); err != nil {
			return err
		}
		snap.Conversations = append(snap.Conversations, c)
	}
	return rows.Err()
}

// loadMessages attaches messages to the already loaded conversations in insertion order.
func (s *Store) loadMessages(ctx context.Context, snap *state.Snapshot) error {
	byID := make(map[string]int, len(snap.Conversations))
	for i, c := range snap.Conversations {
		byID[c.ID] = i
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, role, content, class, created_at FROM messages ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var m models.Message
		var role, class, created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &class, &created); err != nil {
			return err
		}
		m.Role = models.SenderRole(role)
		m.Class = models.MessageClass(class)
		if m.Timestamp, err = parseTS(created); err != nil {
			return err
		}
		i, ok := byID[m.ConversationID]
		if !ok {
			continue
		}
		snap.Conversations[i].Messages = append(snap.Conversations[i].Messages, m)
	}
	return rows.Err()
}

func (s *Store) loadLeads(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, contact_id, account_id, priority, converted_at, notes, key_points, next_steps, archived FROM leads ORDER BY converted_at, id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l models.Lead
		var priority, converted, keyPoints, nextSteps string
		var archived int
		if err := rows.Scan(&l.ID, &l.ConversationID, &l.ContactID, &l.AccountID, &priority, &converted, &l.Notes, &keyPoints, &nextSteps, &archived); err != nil {
			return err
		}
		l.Priority = models.Priority(priority)
		l.Archived = archived == 1
		if err := json.Unmarshal([]byte(keyPoints), &l.KeyPoints); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(nextSteps), &l.NextSteps); err != nil {
			return err
		}
		if l.ConvertedAt, err = parseTS(converted); err != nil {
			return err
		}
		snap.Leads = append(snap.Leads, l)
	}
	return rows.Err()
}

func (s *Store) loadApprovals(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, account_id, content, class, reason, status, created_at, resolved_at FROM approvals ORDER BY created_at, id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Approval
		var class, status, created string
		var resolved sql.NullString
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.AccountID, &a.Content, &class, &a.Reason, &status, &created, &resolved); err != nil {
			return err
		}
		a.Class = models.MessageClass(class)
		a.Status = models.ApprovalStatus(status)
		if a.CreatedAt, err = parseTS(created); err != nil {
			return err
		}
		if a.ResolvedAt, err = parseNullTS(resolved); err != nil {
			return err
		}
		snap.Approvals = append(snap.Approvals, a)
	}
	return rows.Err()
}

func (s *Store) loadSends(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT account_id, day, count FROM daily_sends ORDER BY account_id, day`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var d state.SendDay
		if err := rows.Scan(&d.AccountID, &d.Day, &d.Count); err != nil {
			return err
		}
		snap.Sends = append(snap.Sends, d)
	}
	return rows.Err()
}

func (s *Store) loadTransactions(ctx context.Context, snap *state.Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, delta, reason, reservation, campaign_id, created_at FROM credit_transactions ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tx models.CreditTransaction
		var reason, created string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Delta, &reason, &tx.Reservation, &tx.CampaignID, &created); err != nil {
			return err
		}
		tx.Reason = models.CreditReason(reason)
		if tx.Timestamp, err = parseTS(created); err != nil {
			return err
		}
		snap.Transactions = append(snap.Transactions, tx)
	}
	return rows.Err()
}
