package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
controller {
  url             = "https://gateway.local:8443"
  site            = "default"
  credential_file = "/var/lib/curfew/credential"
  timeout_seconds = 10
}

daemon {
  data_dir                  = "/var/lib/curfew"
  listen                    = ":9590"
  evaluate_interval_seconds = 60
  refresh_interval_seconds  = 900
}

person "emma" {
  prefixes = ["emma-", "family-emma-"]
}

person "noah" {
  prefixes = ["noah-"]
}

notifications {
  enabled = true

  channel "ops" {
    type        = "webhook"
    enabled     = true
    webhook_url = "https://hooks.example.com/abc"
  }
}
`

func TestLoadHCL(t *testing.T) {
	cfg, err := LoadHCL([]byte(sampleHCL), "curfew.hcl")
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.local:8443", cfg.Controller.URL)
	assert.Equal(t, "default", cfg.Controller.Site)
	assert.Equal(t, 10*time.Second, cfg.Controller.Timeout())

	assert.Equal(t, time.Minute, cfg.Daemon.EvaluateInterval())
	assert.Equal(t, 15*time.Minute, cfg.Daemon.RefreshInterval())

	require.Len(t, cfg.People, 2)
	assert.Equal(t, []string{"emma-", "family-emma-"}, cfg.PrefixesFor("emma"))
	assert.Nil(t, cfg.PrefixesFor("nobody"))

	require.NotNil(t, cfg.Notifications)
	assert.True(t, cfg.Notifications.Enabled)
	require.Len(t, cfg.Notifications.Channels, 1)
	assert.Equal(t, "webhook", cfg.Notifications.Channels[0].Type)
}

func TestLoadHCLEnvInterpolation(t *testing.T) {
	t.Setenv("CURFEW_TEST_URL", "https://gw.example.net")

	cfg, err := LoadHCL([]byte(`
controller {
  url = env.CURFEW_TEST_URL
}
`), "curfew.hcl")
	require.NoError(t, err)
	assert.Equal(t, "https://gw.example.net", cfg.Controller.URL)
}

func TestLoadJSON(t *testing.T) {
	data := []byte(`{
		"controller": {"url": "https://gw.local"},
		"people": [{"name": "emma", "prefixes": ["emma-"]}]
	}`)
	cfg, err := LoadJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "https://gw.local", cfg.Controller.URL)
	assert.Equal(t, 30*time.Second, cfg.Controller.Timeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing url",
			cfg:     Config{},
			wantErr: "controller.url is required",
		},
		{
			name: "person without prefixes",
			cfg: Config{
				Controller: ControllerConfig{URL: "https://gw"},
				People:     []PersonConfig{{Name: "emma"}},
			},
			wantErr: "no rule prefixes",
		},
		{
			name: "duplicate person",
			cfg: Config{
				Controller: ControllerConfig{URL: "https://gw"},
				People: []PersonConfig{
					{Name: "emma", Prefixes: []string{"a-"}},
					{Name: "emma", Prefixes: []string{"b-"}},
				},
			},
			wantErr: "duplicate person",
		},
		{
			name: "valid",
			cfg: Config{
				Controller: ControllerConfig{URL: "https://gw"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDaemonDefaultsWhenNil(t *testing.T) {
	var d *DaemonConfig
	assert.Equal(t, time.Minute, d.EvaluateInterval())
	assert.Equal(t, 15*time.Minute, d.RefreshInterval())
}
