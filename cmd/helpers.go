// Package cmd implements the curfew CLI subcommands.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"larkspur.is/curfew/internal/config"
	"larkspur.is/curfew/internal/control"
	"larkspur.is/curfew/internal/logging"
	"larkspur.is/curfew/internal/notify"
	"larkspur.is/curfew/internal/remote"
	"larkspur.is/curfew/internal/secret"
	"larkspur.is/curfew/internal/store"
	"larkspur.is/curfew/internal/wake"
)

// DefaultConfigFile is where the config is looked up when -config is not given.
const DefaultConfigFile = "/etc/curfew/curfew.hcl"

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func dataDir(cfg *config.Config) string {
	if cfg.Daemon != nil && cfg.Daemon.DataDir != "" {
		return cfg.Daemon.DataDir
	}
	return "/var/lib/curfew"
}

func credentialPath(cfg *config.Config) string {
	if cfg.Controller.CredentialFile != "" {
		return cfg.Controller.CredentialFile
	}
	return filepath.Join(dataDir(cfg), "credential")
}

// apiKey resolves the remote credential: environment first, then the store.
func apiKey(cfg *config.Config) (string, error) {
	if key := os.Getenv("CURFEW_API_KEY"); key != "" {
		return key, nil
	}
	value, err := secret.NewFileStore(credentialPath(cfg)).Get()
	if err != nil {
		return "", fmt.Errorf("no API key: set CURFEW_API_KEY or run 'curfew apikey -set' (%w)", err)
	}
	return strings.TrimSpace(string(value)), nil
}

func newRemoteClient(cfg *config.Config) (*remote.HTTPClient, error) {
	key, err := apiKey(cfg)
	if err != nil {
		return nil, err
	}
	opts := []remote.ClientOption{
		remote.WithAPIKey(key),
		remote.WithTimeout(cfg.Controller.Timeout()),
	}
	if cfg.Controller.Site != "" {
		opts = append(opts, remote.WithSite(cfg.Controller.Site))
	}
	return remote.NewHTTPClient(cfg.Controller.URL, opts...), nil
}

// buildController wires a controller from the configuration. The returned
// store must be closed by the caller.
func buildController(cfg *config.Config, logger *logging.Logger, wakes wake.Scheduler) (*control.Controller, *store.SQLiteStore, *remote.HTTPClient, error) {
	client, err := newRemoteClient(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	dir := dataDir(cfg)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("creating data directory: %w", err)
	}
	repo, err := store.Open(store.DefaultOptions(filepath.Join(dir, "curfew.db")))
	if err != nil {
		return nil, nil, nil, err
	}

	ctrl, err := control.New(control.Options{
		Repo:     repo,
		Client:   client,
		Logger:   logger,
		Wakes:    wakes,
		Notifier: notify.NewDispatcher(cfg.Notifications, logger),
		People:   cfg.People,
	})
	if err != nil {
		repo.Close()
		return nil, nil, nil, err
	}
	return ctrl, repo, client, nil
}

// withController runs fn against a controller built from the config file and
// tears everything down afterwards. Used by the one-shot subcommands.
func withController(configFile string, fn func(*control.Controller) error) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	ctrl, repo, _, err := buildController(cfg, logging.Default(), nil)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(ctrl)
}
