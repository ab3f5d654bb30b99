package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bg9m9r/whispr-sub001/pkg/channel"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

// Config holds every knob the run, add-user and export-users commands
// need. Every field has a workable zero-friction default via DefaultConfig.
type Config struct {
	ControlAddr          string // TLS control-plane bind address
	AudioAddr            string // UDP audio-plane bind address
	CertificatePath      string // PKCS12 bundle path; self-signed if unset/missing
	CertificatePassword  string
	DatabasePath         string // sqlite file path; empty uses an in-memory store
	SeedTestUsers        bool   // create admin/admin + bob/bob when the store is empty
	TokenLifetimeHours   int
	ChannelsFile         string // optional YAML file of channels to ensure at startup
	MetricsAddr          string // empty disables the /metrics HTTP endpoint
	LogLevel             string
	LogFormat            string
}

// DefaultConfig returns the configuration a freshly cloned checkout runs
// with: a self-signed certificate, an in-memory store, and no seeded
// accounts.
func DefaultConfig() Config {
	return Config{
		ControlAddr:        ":8443",
		AudioAddr:          ":8444",
		TokenLifetimeHours: 24,
		MetricsAddr:        ":9602",
		LogLevel:           "info",
		LogFormat:          "tint",
	}
}

// ChannelYAML describes one channel to ensure exists at startup.
type ChannelYAML struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"` // "voice" (default) or "text"
}

// ChannelsConfig is the top-level YAML document read from Config.ChannelsFile.
type ChannelsConfig struct {
	Channels []ChannelYAML `yaml:"channels"`
}

// LoadChannelsFromYAML reads a channel seed file and ensures each entry
// exists, skipping any name already taken.
func LoadChannelsFromYAML(ctx context.Context, path string, svc *channel.Service) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator-provided config
	if err != nil {
		return fmt.Errorf("server: read channels config: %w", err)
	}
	return ImportChannelsFromYAML(ctx, data, svc)
}

// ImportChannelsFromYAML parses YAML channel definitions and creates any
// that don't already exist.
func ImportChannelsFromYAML(ctx context.Context, data []byte, svc *channel.Service) error {
	var cfg ChannelsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("server: parse channels config: %w", err)
	}

	created := 0
	for _, entry := range cfg.Channels {
		_, err := svc.Create(ctx, entry.Name, model.ParseChannelType(entry.Type))
		switch {
		case err == nil:
			created++
		case errors.Is(err, channel.ErrNameTaken):
			slog.Debug("channel from config already exists", "name", entry.Name)
		default:
			slog.Error("failed to create channel from config", "name", entry.Name, "err", err)
		}
	}
	slog.Info("imported channels from YAML", "created", created, "total", len(cfg.Channels))
	return nil
}

// UserYAML is one row of an administrative user export.
type UserYAML struct {
	ID        string `yaml:"id"`
	Username  string `yaml:"username"`
	Role      string `yaml:"role"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML document produced by ExportUsersYAML.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// ExportUsersYAML dumps every account (minus credentials) as YAML, for an
// admin auditing who has access.
func ExportUsersYAML(ctx context.Context, store datastore.DataStore) ([]byte, error) {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: export users: %w", err)
	}
	export := UsersExport{Users: make([]UserYAML, 0, len(users))}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID.String(),
			Username:  u.Username,
			Role:      u.Role.String(),
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
