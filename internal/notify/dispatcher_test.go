package notify

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"larkspur.is/curfew/internal/config"
	"larkspur.is/curfew/internal/logging"
)

func TestShouldSend(t *testing.T) {
	assert.True(t, shouldSend(LevelInfo, ""))
	assert.True(t, shouldSend(LevelWarning, LevelInfo))
	assert.True(t, shouldSend(LevelCritical, LevelCritical))
	assert.False(t, shouldSend(LevelInfo, LevelWarning))
	assert.False(t, shouldSend(LevelWarning, LevelCritical))
}

func TestSendRespectsEnabledFlags(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "on", Type: "webhook", Enabled: true, WebhookURL: srv.URL},
			{Name: "off", Type: "webhook", Enabled: false, WebhookURL: srv.URL},
		},
	}, logging.Default())

	d.SendSimple("Blocking resumed", "emma-bedtime is blocking again", LevelInfo)

	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

func TestSendDisabledConfigIsNoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("disabled dispatcher sent a request")
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: false,
		Channels: []config.NotificationChannel{
			{Name: "on", Type: "webhook", Enabled: true, WebhookURL: srv.URL},
		},
	}, nil)
	d.SendSimple("x", "y", LevelInfo)

	d = NewDispatcher(nil, nil)
	d.SendSimple("x", "y", LevelInfo)
}

func TestSendNtfyHeaders(t *testing.T) {
	var mu sync.Mutex
	var gotTitle, gotPriority, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotPath = r.URL.Path
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "phone", Type: "ntfy", Enabled: true, Server: srv.URL, Topic: "curfew"},
		},
	}, nil)

	d.SendSimple("Gateway unreachable", "probe failed", LevelCritical)

	mu.Lock()
	assert.Equal(t, "Gateway unreachable", gotTitle)
	assert.Equal(t, "high", gotPriority)
	assert.Equal(t, "/curfew", gotPath)
	mu.Unlock()
}

func TestUnknownChannelTypeLogsError(t *testing.T) {
	d := NewDispatcher(&config.NotificationsConfig{
		Enabled: true,
		Channels: []config.NotificationChannel{
			{Name: "bad", Type: "telegraph", Enabled: true},
		},
	}, nil)
	// Must not panic; the failure is logged per channel
	d.SendSimple("x", "y", LevelInfo)
}
