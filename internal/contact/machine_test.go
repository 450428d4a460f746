package contact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newContact(status models.ContactStatus) *models.Contact {
	return &models.Contact{ID: "c1", Status: status}
}

func TestApply_HappyPath(t *testing.T) {
	c := newContact(models.StatusPending)

	require.NoError(t, Apply(c, SendConnection, t0, 0))
	assert.Equal(t, models.StatusConnected, c.Status)
	require.NotNil(t, c.ConnectionSentAt)
	assert.Equal(t, t0, *c.ConnectionSentAt)

	require.NoError(t, Apply(c, InboundMessage, t0.Add(time.Hour), 0))
	assert.Equal(t, models.StatusResponded, c.Status)

	require.NoError(t, Apply(c, InboundMessage, t0.Add(2*time.Hour), 0), "further inbound is a no-op")
	assert.Equal(t, models.StatusResponded, c.Status)
	assert.Equal(t, t0.Add(2*time.Hour), *c.LastActivity)

	require.NoError(t, Apply(c, ConversationConverted, t0.Add(3*time.Hour), 0))
	assert.Equal(t, models.StatusLead, c.Status)

	assert.Len(t, c.History, 3)
	assert.True(t, ValidPath(c.History))
}

func TestApply_IllegalTransitionsAreNoOps(t *testing.T) {
	tests := []struct {
		from models.ContactStatus
		ev   Event
	}{
		{models.StatusPending, InboundMessage},
		{models.StatusPending, ConversationConverted},
		{models.StatusConnected, SendConnection},
		{models.StatusConnected, ConversationConverted},
		{models.StatusLead, Decline},
		{models.StatusLead, SendConnection},
		{models.StatusDeclined, Decline},
		{models.StatusDeclined, CooldownElapsed},
		{models.StatusResponded, EnterCooldown},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			c := newContact(tt.from)
			before := *c
			err := Apply(c, tt.ev, t0, 5)
			assert.ErrorIs(t, err, models.ErrIllegalStateTransition)
			assert.Equal(t, before, *c)
		})
	}
}

func TestDeclineCooldownBoundary(t *testing.T) {
	c := newContact(models.StatusConnected)
	require.NoError(t, Apply(c, Decline, t0, 5))
	assert.Equal(t, models.StatusDeclined, c.Status)
	assert.Equal(t, 1, c.Declines)

	justBefore := t0.AddDate(0, 0, 5).Add(-time.Nanosecond)
	assert.False(t, Reactivatable(c, justBefore, 5))
	err := Reactivate(c, justBefore, 5)
	assert.ErrorIs(t, err, models.ErrCooldownActive)
	assert.Equal(t, models.StatusCooldown, c.Status)
	require.NotNil(t, c.CooldownUntil)
	assert.Equal(t, t0.AddDate(0, 0, 5), *c.CooldownUntil)

	boundary := t0.AddDate(0, 0, 5)
	assert.True(t, Reactivatable(c, boundary, 5))
	require.NoError(t, Reactivate(c, boundary, 5))
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Nil(t, c.CooldownUntil)
	assert.True(t, ValidPath(c.History))
}

func TestReactivationOncePerDecline(t *testing.T) {
	c := newContact(models.StatusPending)
	require.NoError(t, Apply(c, Decline, t0, 0))
	require.NoError(t, Reactivate(c, t0, 0))
	assert.Equal(t, models.StatusPending, c.Status)

	// Forcing the contact back into cooldown without a new decline must not
	// allow a second re-entry.
	c.Status = models.StatusCooldown
	until := t0
	c.CooldownUntil = &until
	assert.False(t, Reactivatable(c, t0.Add(time.Hour), 0))
	assert.ErrorIs(t, Apply(c, CooldownElapsed, t0.Add(time.Hour), 0), models.ErrIllegalStateTransition)

	c.Status = models.StatusPending
	require.NoError(t, Apply(c, Decline, t0.Add(2*time.Hour), 0))
	require.NoError(t, Reactivate(c, t0.Add(2*time.Hour), 0))
	assert.Equal(t, 2, c.Reactivations)
}

func TestCooldownMeasuredFromLastActivity(t *testing.T) {
	c := newContact(models.StatusResponded)
	last := t0.Add(-48 * time.Hour)
	c.LastActivity = &last
	c.Status = models.StatusDeclined
	c.Declines = 1

	assert.True(t, Reactivatable(c, t0, 2))
	assert.False(t, Reactivatable(c, t0.Add(-time.Minute), 2))
}

func TestValidPath(t *testing.T) {
	ok := []models.StatusChange{
		{From: models.StatusPending, To: models.StatusConnected},
		{From: models.StatusConnected, To: models.StatusDeclined},
		{From: models.StatusDeclined, To: models.StatusCooldown},
		{From: models.StatusCooldown, To: models.StatusPending},
	}
	assert.True(t, ValidPath(ok))

	skip := []models.StatusChange{{From: models.StatusPending, To: models.StatusResponded}}
	assert.False(t, ValidPath(skip))

	gap := []models.StatusChange{
		{From: models.StatusPending, To: models.StatusConnected},
		{From: models.StatusResponded, To: models.StatusLead},
	}
	assert.False(t, ValidPath(gap))
}
