package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/najicham/nba-stats-scraper-sub004/config"
)

func TestProcessorAlertString(t *testing.T) {
	alert := ProcessorAlert{
		Phase:     "raw",
		RunDate:   "2025-01-15",
		Processor: "bigdataball-pbp",
		Elapsed:   90 * time.Minute,
		Reason:    "no output records observed",
	}
	assert.Contains(t, alert.String(), "bigdataball-pbp")
	assert.Contains(t, alert.String(), "raw/2025-01-15")
}

func TestWebhookNotification(t *testing.T) {
	var received ProcessorAlert
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Orch-Token")
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	cnf := &config.Configuration{}
	cnf.Notification.Webhook.Url = srv.URL
	cnf.Notification.Webhook.Headers = map[string]string{"X-Orch-Token": "secret"}
	config.MockConfig(cnf)

	err := WebhookNotification(ProcessorAlert{Processor: "odds-api-lines", Phase: "raw", RunDate: "2025-01-15"})
	assert.NoError(t, err)
	assert.Equal(t, "odds-api-lines", received.Processor)
	assert.Equal(t, "secret", gotHeader)
}

func TestWebhookNotificationSkippedWhenUnconfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	err := WebhookNotification(ProcessorAlert{Processor: "odds-api-lines"})
	assert.NoError(t, err)
}
