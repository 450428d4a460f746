package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/config"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/events"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/logging"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/outreach"
	"github.com/KRHero03/linkedin-seeker-assistant/internal/transport"
)

func init() { gin.SetMode(gin.TestMode) }

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Default()
	// Whole-day window so requests never defer.
	cfg.Defaults.Settings.WorkingHours.Start = "00:00"
	cfg.Defaults.Settings.WorkingHours.End = "00:00"
	svc := outreach.New(cfg, nil, &transport.Memory{})
	s := New(svc, NewTokens("test-secret", time.Hour), logging.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv}
}

func (a *testAPI) do(method, path, token string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) register(name string) string {
	a.t.Helper()
	var out struct {
		Token string `json:"token"`
	}
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/accounts", "", gin.H{"name": name}, &out))
	require.NotEmpty(a.t, out.Token)
	return out.Token
}

func TestAPI_CampaignFlow(t *testing.T) {
	a := newTestAPI(t)
	token := a.register("Ada")

	var camp models.Campaign
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/campaigns", token,
		outreach.NewCampaign{Name: "Backend roles", Start: true}, &camp))
	assert.Equal(t, models.CampaignActive, camp.Status)

	var ct models.Contact
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/campaigns/"+camp.ID+"/contacts", token,
		outreach.NewContact{Profile: models.Profile{Name: "Grace Hopper", Title: "Recruiter"}, MatchScore: 88}, &ct))

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/v1/campaigns/"+camp.ID+"/contacts", token,
		outreach.NewContact{MatchScore: 120}, nil))

	require.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/api/v1/contacts/"+ct.ID+"/connect", token, nil, nil))
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/api/v1/contacts/"+ct.ID+"/connect", token, nil, nil))

	var convs struct {
		Data []models.Conversation `json:"data"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/conversations", token, nil, &convs))
	require.Len(t, convs.Data, 1)

	var msg models.Message
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/conversations/"+convs.Data[0].ID+"/inbound", token,
		gin.H{"content": "Happy to chat"}, &msg))
	assert.Equal(t, models.RoleRecruiter, msg.Role)

	require.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/api/v1/messages/"+msg.ID+"/feedback", token,
		gin.H{"rating": "up"}, nil))

	var dash outreach.Dashboard
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/dashboard", token, nil, &dash))
	assert.Equal(t, 49, dash.Balance)
	assert.Equal(t, 1, dash.Contacts[models.StatusResponded])

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/api/v1/account/temperature", token, gin.H{"value": 2}, nil))
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPut, "/api/v1/account/temperature", token, gin.H{"value": 0.1}, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/v1/account/credits", token, gin.H{"package_id": "nope"}, nil))

	var ls struct {
		Data []models.Lead `json:"data"`
	}
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/leads?priority=high&sort=score", token, nil, &ls))
	assert.Empty(t, ls.Data)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/leads?sort=name", token, nil, nil))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/leads?priority=urgent", token, nil, nil))
}

func TestAPI_Auth(t *testing.T) {
	a := newTestAPI(t)
	alice := a.register("Alice")
	bob := a.register("Bob")

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/v1/account", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/v1/account", "garbage", nil, nil))

	other := NewTokens("another-secret", time.Hour)
	forged, err := other.Sign("whoever")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/v1/account", forged, nil, nil))

	var camp models.Campaign
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/campaigns", alice,
		outreach.NewCampaign{Name: "Alice only"}, &camp))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/campaigns/"+camp.ID, bob, nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/api/v1/campaigns/"+camp.ID+"/pause", bob, nil, nil))
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/campaigns/"+camp.ID, alice, nil, nil))
}

func TestAPI_WebsocketPushesAccountEvents(t *testing.T) {
	a := newTestAPI(t)
	token := a.register("Ada")

	var camp models.Campaign
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/campaigns", token,
		outreach.NewCampaign{Name: "Push", Start: true}, &camp))
	var ct models.Contact
	require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/v1/campaigns/"+camp.ID+"/contacts", token,
		outreach.NewContact{Profile: models.Profile{Name: "Grace"}, MatchScore: 50}, &ct))

	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(a.srv.URL, "http")+"/ws?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/api/v1/contacts/"+ct.ID+"/connect", token, nil, nil))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.ConnectionAccepted, ev.Type)
}
