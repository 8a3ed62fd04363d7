package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifier_Notify(t *testing.T) {
	var received struct {
		Attachments []struct {
			Color string `json:"color"`
			Text  string `json:"text"`
		} `json:"attachments"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Notify(context.Background(), "a task quarantined", SeverityError)
	require.NoError(t, err)

	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "a task quarantined", received.Attachments[0].Text)
	assert.Equal(t, slackColor(SeverityError), received.Attachments[0].Color)
}

func TestSlackNotifier_Notify_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Notify(context.Background(), "test", SeverityInfo)
	assert.Error(t, err)
}

func TestSlackNotifier_Notify_NoWebhookURL(t *testing.T) {
	notifier := NewSlackNotifier("")
	err := notifier.Notify(context.Background(), "test", SeverityInfo)
	assert.Error(t, err)
}

func TestSlackColorDistinguishesSeverity(t *testing.T) {
	colors := map[string]bool{}
	for _, s := range []Severity{SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError} {
		colors[slackColor(s)] = true
	}
	assert.Len(t, colors, 4, "every severity should render with a distinct color")
}
