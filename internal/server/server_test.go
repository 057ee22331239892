package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"splat-notifyer/internal/api"
	"splat-notifyer/internal/config"
	"splat-notifyer/internal/database"
	"splat-notifyer/internal/devapi"
	"splat-notifyer/internal/form"
	"splat-notifyer/internal/refdata"
	"splat-notifyer/internal/repository"
	"splat-notifyer/internal/service"
	"splat-notifyer/internal/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhook = "https://discord.com/api/webhooks/1/abc"

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{AllowedOrigins: []string{"*"}, CacheTTL: time.Hour}
	refs, err := refdata.Embedded()
	require.NoError(t, err)
	svc := service.NewConfigService(repository.NewWebhookConfigRepository(db, zerolog.Nop()), cfg, zerolog.Nop())
	remote := httptest.NewServer(devapi.NewServer(svc, refs, cfg, zerolog.Nop()).Routes())
	t.Cleanup(remote.Close)

	client := api.NewClient(&config.Config{RemoteAPIURL: remote.URL}, zerolog.Nop())
	manager := session.NewManager(
		session.NewMemoryStore(time.Hour),
		refdata.NewProvider(client, cfg, zerolog.Nop()),
		client,
		form.Options{Location: time.UTC},
		zerolog.Nop(),
	)

	srv, err := NewFormServer(manager, cfg, zerolog.Nop())
	require.NoError(t, err)
	return srv.Routes()
}

func postForm(t *testing.T, h http.Handler, target string, values url.Values) (*httptest.ResponseRecorder, stateResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, out := postForm(t, h, "/sessions", url.Values{"webhookUrl": {testWebhook}})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, out.SessionID)
	assert.Equal(t, testWebhook, out.View.WebhookURL)
	assert.False(t, out.View.FormVisible)
	return out.SessionID
}

func checkWebhook(t *testing.T, h http.Handler, sid string) stateResponse {
	t.Helper()
	rec, out := postForm(t, h, "/sessions/"+sid+"/webhook/check", nil)
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	return out
}

func TestFullFlow(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)

	out := checkWebhook(t, h, sid)
	require.True(t, out.View.FormVisible)
	assert.Equal(t, "Webhook URL is valid.", out.View.Feedback.Text)
	require.Len(t, out.View.Sections, 1)
	rule := out.View.Sections[0]
	assert.Equal(t, "Notification Rule #1", rule.Title)

	base := "/sessions/" + sid + "/rules/" + rule.ID
	rec, out := postForm(t, h, base, url.Values{
		"index":                 {"1"},
		"notificationMessage-1": {"Zones on MakoMart"},
		"matchType-1":           {"X-Battle"},
		"timeSlot-1":            {"06:00-08:00 UTC", "22:00-00:00 UTC"},
		"battleMode-1":          {"splat-zones"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	require.Len(t, out.View.Sections[0].Panels, 1)
	panel := out.View.Sections[0].Panels[0]
	assert.Equal(t, "map-selector-splat-zones-1", panel.ElementID)
	assert.False(t, panel.Hidden)

	rec, out = postForm(t, h, base, url.Values{
		"index":                         {"1"},
		"notificationMessage-1":         {"Zones on MakoMart"},
		"matchType-1":                   {"X-Battle"},
		"timeSlot-1":                    {"06:00-08:00 UTC", "22:00-00:00 UTC"},
		"battleMode-1":                  {"splat-zones"},
		"map-splat-zones-1":             {"makomart"},
		"map-notify-type-splat-zones-1": {"at-least-one"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	require.True(t, out.Validation.Valid, out.Validation.Render())

	rec, out = postForm(t, h, "/sessions/"+sid+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	require.NotNil(t, out.Submit)
	assert.True(t, out.Submit.Sent)
	assert.Equal(t, http.StatusOK, out.Submit.StatusCode)
	require.NotNil(t, out.View.Response)
	assert.Equal(t, "Configuration submitted successfully:", out.View.Response.Title)

	// A fresh session on the same webhook gets the stored rules back.
	other := createSession(t, h)
	out = checkWebhook(t, h, other)
	require.Len(t, out.Config.Rules, 1)
	assert.Equal(t, "Zones on MakoMart", out.Config.Rules[0].NotificationMessage)
	assert.Equal(t, []string{"makomart"}, out.Config.Rules[0].Maps["splat-zones"].SelectedMaps)
}

func TestSubmitWithoutCheck(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)

	rec, out := postForm(t, h, "/sessions/"+sid+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, out.Submit)
	assert.False(t, out.Submit.Sent)
	assert.False(t, out.Validation.Valid)
	assert.Contains(t, out.Validation.General, form.MsgWebhookNotValidated)
	assert.Equal(t, "Please fix the following errors:", out.View.Response.Title)
}

func TestCheckRejectedWebhook(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)

	rec, out := postForm(t, h, "/sessions/"+sid+"/webhook/check", url.Values{"webhookUrl": {"not a url"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, out.View.FormVisible)
	assert.Equal(t, form.FeedbackError, out.View.Feedback.Kind)
	assert.Equal(t, service.MsgBadWebhookURL, out.View.Feedback.Text)
}

func TestStaleIndexConflict(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	checkWebhook(t, h, sid)

	rec, out := postForm(t, h, "/sessions/"+sid+"/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, out.RuleIndex)
	first, second := out.View.Sections[0].ID, out.View.Sections[1].ID

	rec, out = postForm(t, h, "/sessions/"+sid+"/rules/"+first+"/delete", url.Values{"index": {"1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out.View.Sections, 1)
	assert.Equal(t, "Notification Rule #1", out.View.Sections[0].Title)
	assert.Equal(t, second, out.View.Sections[0].ID)

	// The page still shows the surviving rule as #2.
	rec, _ = postForm(t, h, "/sessions/"+sid+"/rules/"+second+"/modes/splat-zones", url.Values{"index": {"2"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestToggleEndpoints(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	out := checkWebhook(t, h, sid)
	base := "/sessions/" + sid + "/rules/" + out.View.Sections[0].ID

	rec, out := postForm(t, h, base+"/modes/tower-control", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, out = postForm(t, h, base+"/modes/tower-control/maps/scorch-gorge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, out = postForm(t, h, base+"/modes/tower-control/notify", url.Values{"notifyType": {"two-same-rotation"}})
	require.Equal(t, http.StatusOK, rec.Code)
	set := out.Config.Rules[0].Maps["tower-control"]
	assert.Equal(t, []string{"scorch-gorge"}, set.SelectedMaps)
	assert.Equal(t, "two-same-rotation", string(set.NotifyType))

	// Hiding the panel keeps its contents but drops it from the payload.
	rec, out = postForm(t, h, base+"/modes/tower-control", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, out.Config.Rules[0].Maps, "tower-control")
	require.Len(t, out.View.Sections[0].Panels, 1)
	assert.True(t, out.View.Sections[0].Panels[0].Hidden)

	rec, _ = postForm(t, h, base+"/modes/not-a-mode", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	h := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions/missing/state", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTMLFlow(t *testing.T) {
	h := setupServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/sessions"`)

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(url.Values{"webhookUrl": {testWebhook}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	page := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(page, "/sessions/"))

	req = httptest.NewRequest(http.MethodPost, page+"/webhook/check", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, page, rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, page, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Notification Rule #1")
	assert.Contains(t, body, `name="notificationMessage-1"`)
	assert.Contains(t, body, "Webhook URL is valid.")
	assert.Contains(t, body, `id="rulesForm"`)
	assert.Contains(t, body, `name="rule"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(form.ErrBusy))
	assert.Equal(t, http.StatusNotFound, statusFor(session.ErrSessionNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(form.ErrUnknownMap))
	assert.Equal(t, http.StatusOK, statusFor(nil))
}

func postJSON(t *testing.T, h http.Handler, target string, body string) (*httptest.ResponseRecorder, stateResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out stateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestSubmitAppliesPostedRuleFields(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	out := checkWebhook(t, h, sid)
	rid := out.View.Sections[0].ID

	// Selecting a mode shows its map panel; everything else is only typed.
	rec, _ := postForm(t, h, "/sessions/"+sid+"/rules/"+rid+"/modes/splat-zones", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out = postForm(t, h, "/sessions/"+sid+"/submit", url.Values{
		"rule":                  {rid},
		"index-" + rid:          {"1"},
		"notificationMessage-1": {"Typed, never applied"},
		"matchType-1":           {"Open"},
		"timeSlot-1":            {"10:00-12:00 UTC"},
		"battleMode-1":          {"splat-zones"},
		"map-splat-zones-1":     {"makomart"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	require.NotNil(t, out.Submit)
	require.True(t, out.Submit.Sent, out.Validation.Render())
	assert.Equal(t, http.StatusOK, out.Submit.StatusCode)
	assert.Equal(t, "Typed, never applied", out.Config.Rules[0].NotificationMessage)

	stored := checkWebhook(t, h, createSession(t, h))
	require.Len(t, stored.Config.Rules, 1)
	assert.Equal(t, "Typed, never applied", stored.Config.Rules[0].NotificationMessage)
	assert.Equal(t, []string{"10:00-12:00 UTC"}, stored.Config.Rules[0].TimeSlots)
}

func TestSubmitAppliesNumberedFieldsWithoutRuleList(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	checkWebhook(t, h, sid)

	rec, out := postForm(t, h, "/sessions/"+sid+"/submit", url.Values{
		"notificationMessage-1": {"Zones edited"},
		"matchType-1":           {"Series"},
		"timeSlot-1":            {"06:00-08:00 UTC"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	assert.False(t, out.Submit.Sent)
	assert.Equal(t, []string{form.MsgNoBattleModes}, out.Validation.Rules[1])
	assert.Equal(t, "Zones edited", out.Config.Rules[0].NotificationMessage)
}

func TestApplyKeepsEditsOfEveryRule(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	checkWebhook(t, h, sid)
	_, out := postForm(t, h, "/sessions/"+sid+"/rules", nil)
	first, second := out.View.Sections[0].ID, out.View.Sections[1].ID

	rec, out := postForm(t, h, "/sessions/"+sid+"/rules/apply", url.Values{
		"rule":                  {first, second},
		"index-" + first:        {"1"},
		"index-" + second:       {"2"},
		"notificationMessage-1": {"first rule"},
		"notificationMessage-2": {"second rule"},
		"matchType-2":           {"X-Battle"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	assert.Equal(t, "first rule", out.Config.Rules[0].NotificationMessage)
	assert.Equal(t, "second rule", out.Config.Rules[1].NotificationMessage)
	assert.Equal(t, "X-Battle", string(out.Config.Rules[1].MatchType))

	// Adding a rule from the page keeps what was typed.
	rec, out = postForm(t, h, "/sessions/"+sid+"/rules", url.Values{
		"rule":                  {first, second},
		"index-" + first:        {"1"},
		"index-" + second:       {"2"},
		"notificationMessage-1": {"first rule, edited"},
		"notificationMessage-2": {"second rule"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	assert.Equal(t, 3, out.RuleIndex)
	assert.Equal(t, "first rule, edited", out.Config.Rules[0].NotificationMessage)
}

func TestApplyRejectsStalePage(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	out := checkWebhook(t, h, sid)
	rid := out.View.Sections[0].ID

	rec, out := postForm(t, h, "/sessions/"+sid+"/rules/apply", url.Values{
		"rule":                  {rid},
		"index-" + rid:          {"2"},
		"notificationMessage-2": {"from an old page"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, out.Config.Rules[0].NotificationMessage)

	rec, _ = postForm(t, h, "/sessions/"+sid+"/rules/apply", url.Values{
		"rule":                  {"gone"},
		"index-gone":            {"1"},
		"notificationMessage-1": {"from an old page"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJSONRuleUpdateIsPartial(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	out := checkWebhook(t, h, sid)
	base := "/sessions/" + sid + "/rules/" + out.View.Sections[0].ID

	rec, out := postForm(t, h, base, url.Values{
		"notificationMessage-1": {"Zones"},
		"matchType-1":           {"Open"},
		"timeSlot-1":            {"06:00-08:00 UTC"},
		"battleMode-1":          {"splat-zones"},
	})
	require.Equal(t, http.StatusOK, rec.Code, out.Error)

	rec, out = postJSON(t, h, base, `{"notificationMessage-1": "Zones edited", "matchType-1": "Series", "index": 1}`)
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	rule := out.Config.Rules[0]
	assert.Equal(t, "Zones edited", rule.NotificationMessage)
	assert.Equal(t, "Series", string(rule.MatchType))
	assert.Equal(t, []string{"06:00-08:00 UTC"}, rule.TimeSlots)
	assert.True(t, rule.BattleModes["splat-zones"])

	// An explicit empty list clears the group.
	rec, out = postJSON(t, h, base, `{"timeSlot-1": []}`)
	require.Equal(t, http.StatusOK, rec.Code, out.Error)
	assert.Empty(t, out.Config.Rules[0].TimeSlots)
	assert.Equal(t, "Zones edited", out.Config.Rules[0].NotificationMessage)
}

func TestJSONRuleUpdateRejectsBadValues(t *testing.T) {
	h := setupServer(t)
	sid := createSession(t, h)
	out := checkWebhook(t, h, sid)
	base := "/sessions/" + sid + "/rules/" + out.View.Sections[0].ID

	rec, out := postJSON(t, h, base, `{"timeSlot-1": [6]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, out.Config.Rules[0].NotificationMessage)

	rec, _ = postJSON(t, h, base, `{"notificationMessage-1": {"text": "x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
