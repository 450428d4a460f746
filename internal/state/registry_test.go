package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

func TestRegistry_UpdateSerializesPerAccount(t *testing.T) {
	r := NewRegistry(nil)
	r.AddAccount(&models.Account{ID: "a"})
	r.AddAccount(&models.Account{ID: "b"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_ = r.Update(id, func(g *Aggregate) error {
					g.Sends.Count++
					return nil
				})
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, r.Update(id, func(g *Aggregate) error {
			assert.Equal(t, 100, g.Sends.Count)
			return nil
		}))
	}
	assert.Equal(t, []string{"a", "b"}, r.AccountIDs())
}

func TestRegistry_OwnerLookup(t *testing.T) {
	r := NewRegistry(nil)
	r.AddAccount(&models.Account{ID: "a"})
	r.Index(KindContact, "c1", "a")

	owner, err := r.Owner(KindContact, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a", owner)

	_, err = r.Owner(KindContact, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, r.Update("zzz", func(*Aggregate) error { return nil }), models.ErrNotFound)
}

func TestDailySends_ResetsOncePerDay(t *testing.T) {
	var d DailySends
	assert.Equal(t, 0, d.CountFor("2026-03-01"))
	d.Count = 3
	assert.Equal(t, 3, d.CountFor("2026-03-01"))
	assert.Equal(t, 0, d.CountFor("2026-03-02"))
}

func TestRestore(t *testing.T) {
	r := NewRegistry(nil)
	snap := &Snapshot{
		Accounts:  []models.Account{{ID: "a"}},
		Campaigns: []models.Campaign{{ID: "camp", AccountID: "a"}},
		Contacts: []models.Contact{
			{ID: "c2", CampaignID: "camp", AccountID: "a"},
			{ID: "c1", CampaignID: "camp", AccountID: "a"},
		},
		Conversations: []models.Conversation{{
			ID: "conv", ContactID: "c1", AccountID: "a",
			Messages: []models.Message{{ID: "m1", ConversationID: "conv"}},
		}},
		Leads: []models.Lead{{ID: "lead", ConversationID: "conv", AccountID: "a"}},
		Sends: []SendDay{{AccountID: "a", Day: "2026-03-01", Count: 2}, {AccountID: "a", Day: "2026-03-02", Count: 1}},
	}
	require.NoError(t, r.Restore(snap))

	owner, err := r.Owner(KindMessage, "m1")
	require.NoError(t, err)
	assert.Equal(t, "a", owner)

	require.NoError(t, r.Update("a", func(g *Aggregate) error {
		contacts := g.CampaignContacts("camp")
		require.Len(t, contacts, 2)
		assert.Equal(t, "c1", contacts[0].ID)
		conv, ok := g.ConversationFor("c1")
		require.True(t, ok)
		assert.Equal(t, "conv", conv.ID)
		assert.Contains(t, g.Leads, "conv")
		assert.Equal(t, DailySends{Day: "2026-03-02", Count: 1}, g.Sends)
		return nil
	}))

	bad := &Snapshot{Campaigns: []models.Campaign{{ID: "x", AccountID: "ghost"}}}
	assert.ErrorIs(t, NewRegistry(nil).Restore(bad), models.ErrNotFound)
}

func TestRestore_LinksNewestThreadOnly(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		Accounts: []models.Account{{ID: "a"}},
		Contacts: []models.Contact{
			{ID: "back", AccountID: "a", Status: models.StatusConnected},
			{ID: "waiting", AccountID: "a", Status: models.StatusPending},
		},
		Conversations: []models.Conversation{
			{ID: "second", ContactID: "back", AccountID: "a", Status: models.ConversationActive, CreatedAt: t0.Add(48 * time.Hour)},
			{ID: "first", ContactID: "back", AccountID: "a", Status: models.ConversationEnded, CreatedAt: t0},
			{ID: "old", ContactID: "waiting", AccountID: "a", Status: models.ConversationEnded, CreatedAt: t0},
		},
	}
	r := NewRegistry(nil)
	require.NoError(t, r.Restore(snap))

	require.NoError(t, r.Update("a", func(g *Aggregate) error {
		conv, ok := g.ConversationFor("back")
		require.True(t, ok)
		assert.Equal(t, "second", conv.ID)

		_, ok = g.ConversationFor("waiting")
		assert.False(t, ok)
		assert.Len(t, g.Conversations, 3)
		return nil
	}))
}
