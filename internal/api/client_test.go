package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"splat-notifyer/internal/api"
	"splat-notifyer/internal/config"
	"splat-notifyer/internal/database"
	"splat-notifyer/internal/devapi"
	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/refdata"
	"splat-notifyer/internal/repository"
	"splat-notifyer/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhook = "https://discord.com/api/webhooks/1/abc"

func setupClient(t *testing.T) *api.Client {
	t.Helper()
	db, err := database.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	refs, err := refdata.Embedded()
	require.NoError(t, err)
	svc := service.NewConfigService(repository.NewWebhookConfigRepository(db, zerolog.Nop()), cfg, zerolog.Nop())

	srv := httptest.NewServer(devapi.NewServer(svc, refs, cfg, zerolog.Nop()).Routes())
	t.Cleanup(srv.Close)

	return api.NewClient(&config.Config{RemoteAPIURL: srv.URL + "/"}, zerolog.Nop())
}

func sampleConfig() domain.Config {
	return domain.Config{
		WebhookURL: testWebhook,
		Rules: []domain.Rule{{
			NotificationMessage: "Tower on Eeltail",
			MatchType:           domain.MatchTypeSeries,
			TimeSlots:           []string{"10:00-12:00 UTC"},
			BattleModes:         map[string]bool{"tower-control": true},
			Maps: map[string]domain.MapSet{
				"tower-control": {SelectedMaps: []string{"eeltail-alley"}, NotifyType: domain.NotifyAtLeastOne},
			},
		}},
	}
}

func TestClientRoundTrip(t *testing.T) {
	client := setupClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check, err := client.CheckConfig(ctx, testWebhook)
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.False(t, check.Exists)

	resp, err := client.SubmitConfig(ctx, sampleConfig())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, service.ScheduleName(testWebhook), body["scheduleName"])

	check, err = client.CheckConfig(ctx, testWebhook)
	require.NoError(t, err)
	require.True(t, check.Exists)
	assert.Equal(t, sampleConfig(), *check.Config)

	loaded, err := client.LoadConfig(ctx, testWebhook)
	require.NoError(t, err)
	assert.Equal(t, sampleConfig(), *loaded)
}

func TestClientStatusError(t *testing.T) {
	client := setupClient(t)

	_, err := client.CheckConfig(context.Background(), "")
	var serr *api.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, "Webhook URL cannot be empty!", serr.Message())

	resp, err := client.SubmitConfig(context.Background(), domain.Config{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientReferenceData(t *testing.T) {
	client := setupClient(t)
	refs, err := refdata.Embedded()
	require.NoError(t, err)

	modes, err := client.GetModes(context.Background())
	require.NoError(t, err)
	require.Len(t, modes.Modes, len(refs.ModeOrder))

	maps, err := client.GetMaps(context.Background())
	require.NoError(t, err)
	require.Len(t, maps.Maps, len(refs.MapOrder))
}

func TestClientNotConfigured(t *testing.T) {
	client := api.NewClient(&config.Config{}, zerolog.Nop())
	assert.False(t, client.Configured())

	_, err := client.CheckConfig(context.Background(), testWebhook)
	require.ErrorIs(t, err, api.ErrNoRemote)
	_, err = client.SubmitConfig(context.Background(), sampleConfig())
	require.ErrorIs(t, err, api.ErrNoRemote)
}

func TestStatusErrorMessageFallback(t *testing.T) {
	err := &api.StatusError{StatusCode: 502, Body: []byte("bad gateway\n")}
	assert.Equal(t, "bad gateway", err.Message())
	assert.Equal(t, "API error: 502", err.Error())
}
