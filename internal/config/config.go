// Package config provides HCL configuration handling for the curfew controller.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Controller    ControllerConfig     `hcl:"controller,block" json:"controller"`
	Daemon        *DaemonConfig        `hcl:"daemon,block" json:"daemon,omitempty"`
	People        []PersonConfig       `hcl:"person,block" json:"people,omitempty"`
	Notifications *NotificationsConfig `hcl:"notifications,block" json:"notifications,omitempty"`
}

// ControllerConfig identifies the remote rule-management endpoint.
type ControllerConfig struct {
	URL            string `hcl:"url" json:"url"`
	Site           string `hcl:"site,optional" json:"site,omitempty"`
	CredentialFile string `hcl:"credential_file,optional" json:"credential_file,omitempty"`
	TimeoutSeconds int    `hcl:"timeout_seconds,optional" json:"timeout_seconds,omitempty"`
}

// Timeout returns the request timeout for the remote client.
func (c ControllerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DaemonConfig holds daemon runtime settings.
type DaemonConfig struct {
	DataDir                 string `hcl:"data_dir,optional" json:"data_dir,omitempty"`
	Listen                  string `hcl:"listen,optional" json:"listen,omitempty"`
	EvaluateIntervalSeconds int    `hcl:"evaluate_interval_seconds,optional" json:"evaluate_interval_seconds,omitempty"`
	RefreshIntervalSeconds  int    `hcl:"refresh_interval_seconds,optional" json:"refresh_interval_seconds,omitempty"`
}

// EvaluateInterval returns how often blocking state is re-derived.
// "Now" moves on its own, so this is minute granularity by default.
func (d *DaemonConfig) EvaluateInterval() time.Duration {
	if d == nil || d.EvaluateIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(d.EvaluateIntervalSeconds) * time.Second
}

// RefreshInterval returns how often the remote rule list is re-fetched.
func (d *DaemonConfig) RefreshInterval() time.Duration {
	if d == nil || d.RefreshIntervalSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(d.RefreshIntervalSeconds) * time.Second
}

// PersonConfig maps a person to the rule-name prefixes they own.
// Rules whose names start with one of the prefixes are candidates for
// management under that person.
type PersonConfig struct {
	Name     string   `hcl:"name,label" json:"name"`
	Prefixes []string `hcl:"prefixes" json:"prefixes"`
}

// NotificationsConfig configures outbound notifications.
type NotificationsConfig struct {
	Enabled  bool                  `hcl:"enabled,optional" json:"enabled"`
	Channels []NotificationChannel `hcl:"channel,block" json:"channels,omitempty"`
}

// NotificationChannel is a single notification destination.
type NotificationChannel struct {
	Name       string            `hcl:"name,label" json:"name"`
	Type       string            `hcl:"type" json:"type"`
	Enabled    bool              `hcl:"enabled,optional" json:"enabled"`
	Level      string            `hcl:"level,optional" json:"level,omitempty"`
	WebhookURL string            `hcl:"webhook_url,optional" json:"webhook_url,omitempty"`
	Server     string            `hcl:"server,optional" json:"server,omitempty"`
	Topic      string            `hcl:"topic,optional" json:"topic,omitempty"`
	Headers    map[string]string `hcl:"headers,optional" json:"headers,omitempty"`
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Controller.URL == "" {
		return fmt.Errorf("controller.url is required")
	}
	seen := make(map[string]bool)
	for _, p := range c.People {
		if p.Name == "" {
			return fmt.Errorf("person block requires a name label")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate person %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Prefixes) == 0 {
			return fmt.Errorf("person %q has no rule prefixes", p.Name)
		}
	}
	if c.Notifications != nil {
		for _, ch := range c.Notifications.Channels {
			if ch.Type == "" {
				return fmt.Errorf("notification channel %q has no type", ch.Name)
			}
		}
	}
	return nil
}

// PrefixesFor returns the rule-name prefixes for a person, or nil if unknown.
func (c *Config) PrefixesFor(person string) []string {
	for _, p := range c.People {
		if p.Name == person {
			return p.Prefixes
		}
	}
	return nil
}
