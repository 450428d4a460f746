package models

import (
	"slices"
	"time"
)

type ContactStatus string

const (
	StatusPending   ContactStatus = "pending"
	StatusConnected ContactStatus = "connected"
	StatusResponded ContactStatus = "responded"
	StatusLead      ContactStatus = "lead"
	StatusCooldown  ContactStatus = "cooldown"
	StatusDeclined  ContactStatus = "declined"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationConverted ConversationStatus = "converted"
	ConversationPaused    ConversationStatus = "paused"
	ConversationEnded     ConversationStatus = "ended"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type SenderRole string

const (
	RoleAgent     SenderRole = "agent"
	RoleRecruiter SenderRole = "human_recruiter"
	RoleCandidate SenderRole = "human_candidate"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// MessageClass tags an outbound turn for the autonomy policy.
type MessageClass string

const (
	ClassConnectionRequest MessageClass = "connection_request"
	ClassRoutine           MessageClass = "routine"
	ClassFollowUp          MessageClass = "follow_up"
	ClassScheduling        MessageClass = "scheduling"
	ClassCompensation      MessageClass = "compensation"
	ClassOfferResponse     MessageClass = "offer_response"
	ClassDecline           MessageClass = "decline"
	ClassHarassment        MessageClass = "harassment"
	ClassLeadConversion    MessageClass = "lead_conversion"
)

type Action string

const (
	ActionAutoSend         Action = "auto_send"
	ActionQueueForApproval Action = "queue_for_approval"
	ActionHold             Action = "hold"
)

// MaxConnectionNoteLen bounds connection-request-class content.
const MaxConnectionNoteLen = 300

type WorkingHours struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

type AutonomySettings struct {
	AutoRespond        bool         `json:"auto_respond" yaml:"auto_respond"`
	WorkingHours       WorkingHours `json:"working_hours" yaml:"working_hours"`
	MaxDailyOutreach   int          `json:"max_daily_outreach" yaml:"max_daily_outreach"`
	CooldownPeriodDays int          `json:"cooldown_period_days" yaml:"cooldown_period_days"`
	AllowAgentContact  bool         `json:"allow_agent_contact" yaml:"allow_agent_contact"`
}

type Account struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	CreditCap   int              `json:"credit_cap"`
	Temperature float64          `json:"temperature"`
	Settings    AutonomySettings `json:"settings"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type TargetFilters struct {
	Countries []string `json:"countries,omitempty"`
	Companies []string `json:"companies,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Skills    []string `json:"skills,omitempty"`
}

type Campaign struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	Name           string         `json:"name"`
	Filters        TargetFilters  `json:"filters"`
	Status         CampaignStatus `json:"status"`
	CreditLimit    int            `json:"credit_limit"` // 0 = no sub-budget
	ConnectionNote string         `json:"connection_note"`
	Qualifications string         `json:"qualifications,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Profile struct {
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	Location   string   `json:"location"`
	ProfileURL string   `json:"profile_url"`
	Skills     []string `json:"skills,omitempty"`
	// OptedOut is set when the recruiter refuses contact from AI agents.
	OptedOut bool `json:"opted_out"`
}

type StatusChange struct {
	From ContactStatus `json:"from"`
	To   ContactStatus `json:"to"`
	At   time.Time     `json:"at"`
}

type Contact struct {
	ID               string         `json:"id"`
	CampaignID       string         `json:"campaign_id"`
	AccountID        string         `json:"account_id"`
	Profile          Profile        `json:"profile"`
	MatchScore       int            `json:"match_score"`
	Status           ContactStatus  `json:"status"`
	ConnectionSentAt *time.Time     `json:"connection_sent_at,omitempty"`
	LastActivity     *time.Time     `json:"last_activity,omitempty"`
	CooldownUntil    *time.Time     `json:"cooldown_until,omitempty"`
	Declines         int            `json:"declines"`
	Reactivations    int            `json:"reactivations"`
	History          []StatusChange `json:"history,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (c *Contact) Clone() *Contact {
	cp := *c
	cp.Profile.Skills = slices.Clone(c.Profile.Skills)
	cp.History = slices.Clone(c.History)
	cp.ConnectionSentAt = cloneTime(c.ConnectionSentAt)
	cp.LastActivity = cloneTime(c.LastActivity)
	cp.CooldownUntil = cloneTime(c.CooldownUntil)
	return &cp
}

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           SenderRole   `json:"role"`
	Content        string       `json:"content"`
	Class          MessageClass `json:"class,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// PreviewLen bounds message content in logs and list views. Stored messages
// are never truncated.
const PreviewLen = 40

// Preview returns the content cut to PreviewLen runes.
func (m Message) Preview() string {
	r := []rune(m.Content)
	if len(r) <= PreviewLen {
		return m.Content
	}
	return string(r[:PreviewLen]) + "..."
}

type Conversation struct {
	ID            string             `json:"id"`
	ContactID     string             `json:"contact_id"`
	CampaignID    string             `json:"campaign_id"`
	AccountID     string             `json:"account_id"`
	Messages      []Message          `json:"messages"`
	Sentiment     Sentiment          `json:"sentiment"`
	Status        ConversationStatus `json:"status"`
	Summary       string             `json:"summary,omitempty"`
	KeyPoints     []string           `json:"key_points,omitempty"`
	NextSteps     []string           `json:"next_steps,omitempty"`
	LastInboundAt *time.Time         `json:"last_inbound_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	cp.KeyPoints = slices.Clone(c.KeyPoints)
	cp.NextSteps = slices.Clone(c.NextSteps)
	cp.LastInboundAt = cloneTime(c.LastInboundAt)
	return &cp
}

// LastTimestamp is the timestamp of the newest message, or CreatedAt.
func (c *Conversation) LastTimestamp() time.Time {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].Timestamp
	}
	return c.CreatedAt
}

type Lead struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ContactID      string    `json:"contact_id"`
	AccountID      string    `json:"account_id"`
	Priority       Priority  `json:"priority"`
	ConvertedAt    time.Time `json:"converted_at"`
	Notes          string    `json:"notes"`
	KeyPoints      []string  `json:"key_points,omitempty"`
	NextSteps      []string  `json:"next_steps,omitempty"`
	Archived       bool      `json:"archived"`
}

type CreditReason string

const (
	ReasonConnectionRequest  CreditReason = "connection_request"
	ReasonReservationRelease CreditReason = "reservation_release"
	ReasonPurchase           CreditReason = "purchase"
	ReasonMonthlyRefill      CreditReason = "monthly_refill"
	ReasonAdjustment         CreditReason = "adjustment"
)

type CreditTransaction struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	Delta       int          `json:"delta"`
	Reason      CreditReason `json:"reason"`
	Reservation string       `json:"reservation,omitempty"`
	CampaignID  string       `json:"campaign_id,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type CreditPackage struct {
	ID      string  `json:"id" yaml:"id"`
	Name    string  `json:"name" yaml:"name"`
	Credits int     `json:"credits" yaml:"credits"`
	Price   float64 `json:"price" yaml:"price"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is an outbound turn waiting for human review.
type Approval struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	AccountID      string         `json:"account_id"`
	Content        string         `json:"content"`
	Class          MessageClass   `json:"class"`
	Reason         string         `json:"reason"`
	Status         ApprovalStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

type Feedback struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	AccountID string    `json:"account_id"`
	Rating    Rating    `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
