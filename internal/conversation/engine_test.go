package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/leads"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/state"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/transport"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	reg *state.Registry
	tr  *transport.Memory
	rec *events.Recorder
	eng *Engine
	now time.Time
}

func newFixture(t *testing.T, temperature float64, autoRespond bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reg: state.NewRegistry(nil),
		tr:  &transport.Memory{},
		rec: &events.Recorder{},
		now: t0,
	}
	require.NoError(t, f.reg.Restore(&state.Snapshot{
		Accounts: []models.Account{{
			ID: "acct", Active: true, Temperature: temperature,
			Settings: models.AutonomySettings{AutoRespond: autoRespond, CooldownPeriodDays: 5},
		}},
		Campaigns: []models.Campaign{{ID: "camp", AccountID: "acct", Status: models.CampaignActive}},
		Contacts: []models.Contact{
			{ID: "c1", CampaignID: "camp", AccountID: "acct", MatchScore: 90, Status: models.StatusConnected},
			{ID: "p1", CampaignID: "camp", AccountID: "acct", Status: models.StatusPending},
		},
	}))
	cfg := config.Default()
	opts = append([]Option{WithPublisher(f.rec), WithClock(func() time.Time { return f.now })}, opts...)
	f.eng = New(f.reg, f.tr, cfg, opts...)
	return f
}

func (f *fixture) open(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := f.eng.Open(context.Background(), "c1")
	require.NoError(t, err)
	return conv
}

func (f *fixture) contact(t *testing.T, id string) *models.Contact {
	t.Helper()
	var out *models.Contact
	require.NoError(t, f.reg.Update("acct", func(g *state.Aggregate) error {
		out = g.Contacts[id].Clone()
		return nil
	}))
	return out
}

func TestOpen_RejectsPendingContact(t *testing.T) {
	f := newFixture(t, 0.5, true)
	_, err := f.eng.Open(context.Background(), "p1")
	assert.ErrorIs(t, err, models.ErrIllegalStateTransition)

	conv := f.open(t)
	again := f.open(t)
	assert.Equal(t, conv.ID, again.ID)
}

func TestHandleInbound_MovesContactToResponded(t *testing.T) {
	f := newFixture(t, 0.5, true, WithClassifier(stubClassifier{s: models.SentimentPositive}))
	conv := f.open(t)

	f.now = t0.Add(time.Hour)
	msg, err := f.eng.HandleInbound(context.Background(), Inbound{ContactID: "c1", Content: "Happy to chat"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleRecruiter, msg.Role)

	got, err := f.eng.Conversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SentimentPositive, got.Sentiment)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.StatusResponded, f.contact(t, "c1").Status)
	assert.Len(t, f.rec.OfType(events.NewMessage), 1)

	_, err = f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID})
	assert.ErrorIs(t, err, models.ErrEmptyContent)
}

func TestHandleInbound_TimestampsNeverGoBackwards(t *testing.T) {
	f := newFixture(t, 0.5, true)
	conv := f.open(t)
	f.now = t0.Add(time.Hour)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "first"})
	require.NoError(t, err)

	msg, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "late", At: t0})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), msg.Timestamp)
}

type stubClassifier struct {
	s     models.Sentiment
	err   error
	block bool
}

func (c stubClassifier) Classify(ctx context.Context, _ string) (models.Sentiment, error) {
	if c.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return c.s, c.err
}

func TestHandleInbound_ClassificationFallsBackToNeutral(t *testing.T) {
	tests := []struct {
		name string
		c    stubClassifier
	}{
		{"timeout", stubClassifier{block: true}},
		{"error", stubClassifier{err: errors.New("nlp down")}},
		{"unknown label", stubClassifier{s: "ecstatic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0.5, true, WithClassifier(tt.c))
			f.eng.classifyTimeout = 20 * time.Millisecond
			conv := f.open(t)
			_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "hi"})
			require.NoError(t, err)
			got, err := f.eng.Conversation(conv.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SentimentNeutral, got.Sentiment)
		})
	}
}

func TestHandleInbound_DeclineEndsConversation(t *testing.T) {
	f := newFixture(t, 0.5, true)
	conv := f.open(t)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "not interested", Decline: true})
	require.NoError(t, err)

	c := f.contact(t, "c1")
	assert.Equal(t, models.StatusDeclined, c.Status)
	assert.Equal(t, 1, c.Declines)

	_, err = f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "hello?"})
	assert.ErrorIs(t, err, models.ErrConversationClosed)
	_, err = f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "ok"})
	assert.ErrorIs(t, err, models.ErrConversationClosed)
}

func TestHandleInbound_DeclineFromLeadKeepsMessage(t *testing.T) {
	f := newFixture(t, 0.5, true, WithClassifier(stubClassifier{s: models.SentimentPositive}))
	conv := f.open(t)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{
		ConversationID: conv.ID,
		Content:        "Let's talk on Monday",
		Qualification:  &leads.Qualification{Qualifies: true},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusLead, f.contact(t, "c1").Status)

	f.now = t0.Add(time.Hour)
	msg, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "Actually the role was filled", Decline: true})
	require.NoError(t, err)
	require.NotNil(t, msg)

	got, err := f.eng.Conversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Actually the role was filled", got.Messages[1].Content)
	assert.Equal(t, models.ConversationConverted, got.Status)

	c := f.contact(t, "c1")
	assert.Equal(t, models.StatusLead, c.Status)
	assert.Zero(t, c.Declines)
	require.NotNil(t, c.LastActivity)
	assert.True(t, c.LastActivity.Equal(t0.Add(time.Hour)))
}

func TestHandleInbound_LogsPreviewStoresFullContent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, 0.5, true, WithLogger(zap.New(core).Sugar()))
	conv := f.open(t)

	content := strings.Repeat("long recruiter message ", 10)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: content})
	require.NoError(t, err)

	got, err := f.eng.Conversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, content, got.Messages[0].Content)

	entries := logs.FilterMessage("inbound message").All()
	require.Len(t, entries, 1)
	preview, ok := entries[0].ContextMap()["preview"].(string)
	require.True(t, ok)
	assert.Equal(t, content[:models.PreviewLen]+"...", preview)
	assert.NotContains(t, entries[0].ContextMap(), "content")
}

func TestHandleInbound_ReactivatesPausedConversation(t *testing.T) {
	f := newFixture(t, 0.5, true)
	conv := f.open(t)

	f.now = t0.Add(8 * 24 * time.Hour)
	n, err := f.eng.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ := f.eng.Conversation(conv.ID)
	assert.Equal(t, models.ConversationPaused, got.Status)

	_, err = f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "sorry, was away"})
	require.NoError(t, err)
	got, _ = f.eng.Conversation(conv.ID)
	assert.Equal(t, models.ConversationActive, got.Status)

	n, err = f.eng.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleInbound_ExplicitQualificationConverts(t *testing.T) {
	f := newFixture(t, 0.5, true, WithClassifier(stubClassifier{s: models.SentimentPositive}))
	conv := f.open(t)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{
		ConversationID: conv.ID,
		Content:        "Let's set up a call on Tuesday",
		Qualification:  &leads.Qualification{Qualifies: true, NextSteps: []string{"call on Tuesday"}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusLead, f.contact(t, "c1").Status)
	leadsEv := f.rec.OfType(events.LeadGenerated)
	require.Len(t, leadsEv, 1)
	assert.Equal(t, models.PriorityHigh, leadsEv[0].Data.(models.Lead).Priority)
}

func TestRequestTurn_PolicyBands(t *testing.T) {
	tests := []struct {
		name        string
		temperature float64
		autoRespond bool
		class       models.MessageClass
		want        models.Action
	}{
		{"autopilot routine", 0.9, true, models.ClassRoutine, models.ActionAutoSend},
		{"autopilot lead conversion", 0.9, true, models.ClassLeadConversion, models.ActionQueueForApproval},
		{"balanced compensation", 0.5, true, models.ClassCompensation, models.ActionQueueForApproval},
		{"balanced follow up", 0.5, true, models.ClassFollowUp, models.ActionAutoSend},
		{"manual routine", 0.2, true, models.ClassRoutine, models.ActionQueueForApproval},
		{"auto respond off", 0.9, false, models.ClassRoutine, models.ActionQueueForApproval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.temperature, tt.autoRespond)
			conv := f.open(t)
			res, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "Thanks!", Class: tt.class})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Action)
			switch tt.want {
			case models.ActionAutoSend:
				require.NotNil(t, res.Message)
				assert.Len(t, f.tr.Messages(), 1)
			case models.ActionQueueForApproval:
				require.NotNil(t, res.Approval)
				assert.Empty(t, f.tr.Messages())
				assert.Len(t, f.rec.OfType(events.PendingApproval), 1)
			}
		})
	}
}

func TestRequestTurn_SafetyHold(t *testing.T) {
	f := newFixture(t, 0.9, true, WithClassifier(stubClassifier{s: models.SentimentNegative}))
	conv := f.open(t)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "stop messaging me"})
	require.NoError(t, err)

	res, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "Understood", Class: models.ClassHarassment})
	require.NoError(t, err)
	assert.Equal(t, models.ActionHold, res.Action)
	assert.Empty(t, f.tr.Messages())
}

func TestRequestTurn_TransportFailureDegradesToApproval(t *testing.T) {
	f := newFixture(t, 0.9, true)
	f.tr.Fail = func(string) error { return errors.New("network down") }
	conv := f.open(t)

	res, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "Thanks!"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionQueueForApproval, res.Action)
	assert.True(t, res.Degraded)
	require.NotNil(t, res.Approval)
}

func TestRequestTurn_ConnectionNoteLength(t *testing.T) {
	f := newFixture(t, 0.9, true)
	conv := f.open(t)
	long := make([]rune, models.MaxConnectionNoteLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: string(long), Class: models.ClassConnectionRequest})
	assert.ErrorIs(t, err, models.ErrContentTooLong)
}

func TestApproveAndReject(t *testing.T) {
	f := newFixture(t, 0.2, true)
	conv := f.open(t)

	first, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "Sure, Tuesday works", Class: models.ClassScheduling})
	require.NoError(t, err)
	second, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "My rate is...", Class: models.ClassCompensation})
	require.NoError(t, err)

	msg, err := f.eng.Approve(context.Background(), first.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sure, Tuesday works", msg.Content)
	_, err = f.eng.Approve(context.Background(), first.Approval.ID)
	assert.ErrorIs(t, err, models.ErrApprovalResolved)

	require.NoError(t, f.eng.Reject(context.Background(), second.Approval.ID))
	assert.ErrorIs(t, f.eng.Reject(context.Background(), second.Approval.ID), models.ErrApprovalResolved)
	assert.Len(t, f.tr.Messages(), 1)
}

func TestApprove_LeadConversionTurnConverts(t *testing.T) {
	f := newFixture(t, 0.9, true)
	conv := f.open(t)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "We'd love to move forward"})
	require.NoError(t, err)

	res, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "Great, let's proceed", Class: models.ClassLeadConversion})
	require.NoError(t, err)
	require.Equal(t, models.ActionQueueForApproval, res.Action)
	assert.Equal(t, models.StatusResponded, f.contact(t, "c1").Status)

	_, err = f.eng.Approve(context.Background(), res.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLead, f.contact(t, "c1").Status)
}

func TestSendManualMessage_BypassesPolicy(t *testing.T) {
	f := newFixture(t, 0.0, false)
	conv := f.open(t)
	msg, err := f.eng.SendManualMessage(context.Background(), conv.ID, "Hi, this is me")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCandidate, msg.Role)
	assert.Len(t, f.tr.Messages(), 1)
}

func TestProvideFeedback(t *testing.T) {
	f := newFixture(t, 0.9, true)
	conv := f.open(t)
	res, err := f.eng.RequestTurn(context.Background(), conv.ID, Draft{Content: "Thanks!"})
	require.NoError(t, err)

	require.NoError(t, f.eng.ProvideFeedback(context.Background(), res.Message.ID, models.RatingUp))
	assert.ErrorIs(t, f.eng.ProvideFeedback(context.Background(), res.Message.ID, "meh"), models.ErrInvalidRating)
	assert.ErrorIs(t, f.eng.ProvideFeedback(context.Background(), "missing", models.RatingDown), models.ErrNotFound)
}

type stubDrafter struct{}

func (stubDrafter) Draft(context.Context, *models.Conversation) (Draft, error) {
	return Draft{Content: "Thanks for reaching out!", Class: models.ClassRoutine}, nil
}

func TestHandleInbound_DrafterAutoReplies(t *testing.T) {
	f := newFixture(t, 0.9, true, WithDrafter(stubDrafter{}))
	conv := f.open(t)
	_, err := f.eng.HandleInbound(context.Background(), Inbound{ConversationID: conv.ID, Content: "Hello!"})
	require.NoError(t, err)

	got, err := f.eng.Conversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.RoleAgent, got.Messages[1].Role)
}
