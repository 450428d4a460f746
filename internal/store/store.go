package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/ledger"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
)

type Store struct{ db *sql.DB }

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	credit_cap INTEGER NOT NULL,
	temperature REAL NOT NULL,
	settings TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	name TEXT NOT NULL,
	filters TEXT NOT NULL,
	status TEXT NOT NULL,
	credit_limit INTEGER NOT NULL DEFAULT 0,
	connection_note TEXT NOT NULL DEFAULT '',
	qualifications TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	profile TEXT NOT NULL,
	match_score INTEGER NOT NULL,
	status TEXT NOT NULL,
	connection_sent_at TEXT,
	last_activity TEXT,
	cooldown_until TEXT,
	declines INTEGER NOT NULL DEFAULT 0,
	reactivations INTEGER NOT NULL DEFAULT 0,
	history TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	FOREIGN KEY(campaign_id) REFERENCES campaigns(id)
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL UNIQUE,
	campaign_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	sentiment TEXT NOT NULL,
	status TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	key_points TEXT NOT NULL DEFAULT '[]',
	next_steps TEXT NOT NULL DEFAULT '[]',
	last_inbound_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY(contact_id) REFERENCES contacts(id)
);
CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	class TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);
CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL UNIQUE,
	contact_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	priority TEXT NOT NULL,
	converted_at TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	key_points TEXT NOT NULL DEFAULT '[]',
	next_steps TEXT NOT NULL DEFAULT '[]',
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS credit_transactions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	account_id TEXT NOT NULL,
	delta INTEGER NOT NULL,
	reason TEXT NOT NULL,
	reservation TEXT NOT NULL DEFAULT '',
	campaign_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	content TEXT NOT NULL,
	class TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	rating TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_sends (
	account_id TEXT NOT NULL,
	day TEXT NOT NULL,
	count INTEGER NOT NULL,
	PRIMARY KEY(account_id, day)
);
CREATE INDEX IF NOT EXISTS idx_contacts_campaign ON contacts(campaign_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_credit_tx_account ON credit_transactions(account_id);
`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Store) SaveAccount(ctx context.Context, a *models.Account) error {
	settings, err := json.Marshal(a.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO accounts (id, name, credit_cap, temperature, settings, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		name=excluded.name,
		credit_cap=excluded.credit_cap,
		temperature=excluded.temperature,
		settings=excluded.settings,
		active=excluded.active,
		updated_at=excluded.updated_at
	`, a.ID, a.Name, a.CreditCap, a.Temperature, string(settings), boolInt(a.Active), ts(a.CreatedAt), ts(a.UpdatedAt))
	return err
}

func (s *Store) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	filters, err := json.Marshal(c.Filters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO campaigns (id, account_id, name, filters, status, credit_limit, connection_note, qualifications, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		name=excluded.name,
		filters=excluded.filters,
		status=excluded.status,
		credit_limit=excluded.credit_limit,
		connection_note=excluded.connection_note,
		qualifications=excluded.qualifications,
		updated_at=excluded.updated_at
	`, c.ID, c.AccountID, c.Name, string(filters), string(c.Status), c.CreditLimit, c.ConnectionNote, c.Qualifications, ts(c.CreatedAt), ts(c.UpdatedAt))
	return err
}

func (s *Store) SaveContact(ctx context.Context, c *models.Contact) error {
	profile, err := json.Marshal(c.Profile)
	if err != nil {
		return err
	}
	history, err := json.Marshal(c.History)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO contacts (id, campaign_id, account_id, profile, match_score, status, connection_sent_at, last_activity, cooldown_until, declines, reactivations, history, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		profile=excluded.profile,
		match_score=excluded.match_score,
		status=excluded.status,
		connection_sent_at=excluded.connection_sent_at,
		last_activity=excluded.last_activity,
		cooldown_until=excluded.cooldown_until,
		declines=excluded.declines,
		reactivations=excluded.reactivations,
		history=excluded.history
	`, c.ID, c.CampaignID, c.AccountID, string(profile), c.MatchScore, string(c.Status),
		nullTS(c.ConnectionSentAt), nullTS(c.LastActivity), nullTS(c.CooldownUntil),
		c.Declines, c.Reactivations, string(history), ts(c.CreatedAt))
	return err
}

// SaveConversation upserts the conversation row. Messages are appended separately.
func (s *Store) SaveConversation(ctx context.Context, c *models.Conversation) error {
	keyPoints, err := jsonList(c.KeyPoints)
	if err != nil {
		return err
	}
	nextSteps, err := jsonList(c.NextSteps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (id, contact_id, campaign_id, account_id, sentiment, status, summary, key_points, next_steps, last_inbound_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		sentiment=excluded.sentiment,
		status=excluded.status,
		summary=excluded.summary,
		key_points=excluded.key_points,
		next_steps=excluded.next_steps,
		last_inbound_at=excluded.last_inbound_at,
		updated_at=excluded.updated_at
	`, c.ID, c.ContactID, c.CampaignID, c.AccountID, string(c.Sentiment), string(c.Status), c.Summary,
		keyPoints, nextSteps, nullTS(c.LastInboundAt), ts(c.CreatedAt), ts(c.UpdatedAt))
	return err
}

func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, role, content, class, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, string(m.Class), ts(m.Timestamp))
	return err
}

func (s *Store) SaveLead(ctx context.Context, l *models.Lead) error {
	keyPoints, err := jsonList(l.KeyPoints)
	if err != nil {
		return err
	}
	nextSteps, err := jsonList(l.NextSteps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO leads (id, conversation_id, contact_id, account_id, priority, converted_at, notes, key_points, next_steps, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		priority=excluded.priority,
		notes=excluded.notes,
		archived=excluded.archived
	`, l.ID, l.ConversationID, l.ContactID, l.AccountID, string(l.Priority), ts(l.ConvertedAt), l.Notes, keyPoints, nextSteps, boolInt(l.Archived))
	return err
}

func (s *Store) AppendCreditTransaction(ctx context.Context, tx *models.CreditTransaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO credit_transactions (id, account_id, delta, reason, reservation, campaign_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Delta, string(tx.Reason), tx.Reservation, tx.CampaignID, ts(tx.Timestamp))
	return err
}

func (s *Store) SaveApproval(ctx context.Context, a *models.Approval) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approvals (id, conversation_id, account_id, content, class, reason, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		status=excluded.status,
		resolved_at=excluded.resolved_at
	`, a.ID, a.ConversationID, a.AccountID, a.Content, string(a.Class), a.Reason, string(a.Status), ts(a.CreatedAt), nullTS(a.ResolvedAt))
	return err
}

func (s *Store) AppendFeedback(ctx context.Context, f *models.Feedback) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO feedback (id, message_id, account_id, rating, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.MessageID, f.AccountID, string(f.Rating), ts(f.CreatedAt))
	return err
}

func (s *Store) RecordSend(ctx context.Context, accountID, day string, count int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO daily_sends (account_id, day, count) VALUES (?, ?, ?)
		ON CONFLICT(account_id, day) DO UPDATE SET count=excluded.count`, accountID, day, count)
	return err
}

// CountSends returns the persisted connection-request count for an account-local day.
func (s *Store) CountSends(ctx context.Context, accountID, day string) (int, error) {
	var c int
	err := s.db.QueryRowContext(ctx, `SELECT count FROM daily_sends WHERE account_id = ? AND day = ?`, accountID, day).Scan(&c)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return c, err
}

var (
	_ state.Journal  = (*Store)(nil)
	_ ledger.Journal = (*Store)(nil)
)

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ts(*t), Valid: true}
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonList(v []string) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}
