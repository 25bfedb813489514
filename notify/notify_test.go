package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/manorchestra/core/manmodel"
)

func testTask() manmodel.ManTask {
	return manmodel.ManTask{
		ID:          "task-1",
		WorkflowID:  "wf-1",
		StepID:      "s1",
		ToolName:    "delete_record",
		Status:      manmodel.TaskPending,
		RiskScore:   0.85,
		RiskReasons: []string{"irreversible: 0.80"},
	}
}

func TestConfigFromEnvDefaultsToConsole(t *testing.T) {
	t.Setenv("MAN_NOTIFICATION_CHANNELS", "")
	t.Setenv("MAN_NOTIFICATION_WEBHOOK_URL", "")
	cfg := ConfigFromEnv()
	require.Equal(t, []Channel{ChannelConsole}, cfg.EnabledChannels)
}

func TestConfigFromEnvParsesChannelList(t *testing.T) {
	t.Setenv("MAN_NOTIFICATION_CHANNELS", "webhook, console, bogus")
	cfg := ConfigFromEnv()
	require.Equal(t, []Channel{ChannelWebhook, ChannelConsole}, cfg.EnabledChannels)
}

func TestDispatcherSendsWebhookPayload(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(Config{
		WebhookURL:       server.URL,
		DashboardBaseURL: "https://dash.example.com/man/tasks",
		EnabledChannels:  []Channel{ChannelWebhook},
		RateLimitPerSec:  100,
	}, nil)

	require.NoError(t, d.NotifyManTaskOpened(context.Background(), testTask()))
	require.Equal(t, "task-1", captured["task_id"])
	require.Equal(t, "delete_record", captured["tool_name"])
	require.Equal(t, "https://dash.example.com/man/tasks/task-1", captured["dashboard_url"])
}

func TestDispatcherReportsUnconfiguredChannelWithoutError(t *testing.T) {
	d := New(Config{EnabledChannels: []Channel{ChannelWebhook, ChannelEmail}, RateLimitPerSec: 100}, nil)
	results := d.dispatch(context.Background(), testTask())
	require.Len(t, results, 2)
	for _, r := range results {
		require.False(t, r.Success)
		require.NotEmpty(t, r.Error)
	}
}

func TestDispatcherConsoleAlwaysSucceeds(t *testing.T) {
	d := New(Config{EnabledChannels: []Channel{ChannelConsole}, RateLimitPerSec: 100}, nil)
	results := d.dispatch(context.Background(), testTask())
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
}
