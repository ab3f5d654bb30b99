// Command whisprd runs the Whispr relay: a TLS control plane and a UDP
// audio plane backed by a SQLite or in-memory store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bg9m9r/whispr-sub001/pkg/auth"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/logging"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
	"github.com/bg9m9r/whispr-sub001/pkg/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := server.DefaultConfig()
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           "whisprd",
		Short:         "Whispr voice relay and control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database file path (empty uses an in-memory store)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: "+logging.LevelNames())
	root.PersistentFlags().StringVar(&logFormat, "log-format", "tint", "log format: text, tint, or json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg.LogLevel, cfg.LogFormat = logLevel, logFormat
		return logging.Setup(logging.Options{Level: logLevel, Format: logFormat, Output: os.Stdout})
	}

	// With no subcommand, whisprd behaves like "whisprd run".
	runCmd := newRunCmd(&cfg)
	root.RunE = runCmd.RunE
	root.Flags().AddFlagSet(runCmd.Flags())
	root.AddCommand(runCmd)
	root.AddCommand(newAddUserCmd(&cfg))
	root.AddCommand(newExportUsersCmd(&cfg))
	return root
}

func newRunCmd(cfg *server.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the control and audio planes and block until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pw := os.Getenv("WHISPR_CERT_PASSWORD"); pw != "" {
				cfg.CertificatePassword = pw
			}
			store, err := openStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			srv, err := server.New(*cfg, store)
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}
			return srv.Run()
		},
	}
	cmd.Flags().StringVar(&cfg.ControlAddr, "control-addr", cfg.ControlAddr, "TLS control-plane bind address")
	cmd.Flags().StringVar(&cfg.AudioAddr, "audio-addr", cfg.AudioAddr, "UDP audio-plane bind address")
	cmd.Flags().StringVar(&cfg.CertificatePath, "cert", "", "PKCS12 certificate bundle path (self-signed if unset or missing)")
	cmd.Flags().StringVar(&cfg.CertificatePassword, "cert-password", "", "PKCS12 bundle password")
	cmd.Flags().BoolVar(&cfg.SeedTestUsers, "seed", false, "create admin/admin and bob/bob if the store has no users")
	cmd.Flags().IntVar(&cfg.TokenLifetimeHours, "token-lifetime-hours", cfg.TokenLifetimeHours, "bearer token lifetime, in hours")
	cmd.Flags().StringVar(&cfg.ChannelsFile, "channels-file", "", "YAML file of channels to ensure at startup")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP bind address for /metrics (empty disables it)")
	return cmd
}

func newAddUserCmd(cfg *server.Config) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "add-user <username> <password>",
		Short: "Create a user account directly in the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			role := model.SystemRoleUser
			if admin {
				role = model.SystemRoleAdmin
			}
			svc := auth.NewService(store, time.Duration(cfg.TokenLifetimeHours)*time.Hour)
			user, err := svc.AddUser(context.Background(), args[0], args[1], role)
			if err != nil {
				return fmt.Errorf("add user: %w", err)
			}
			fmt.Printf("created %s (%s) role=%s\n", user.Username, user.ID, user.Role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	return cmd
}

func newExportUsersCmd(cfg *server.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "export-users",
		Short: "Dump every account (minus credentials) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			data, err := server.ExportUsersYAML(context.Background(), store)
			if err != nil {
				return fmt.Errorf("export users: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func openStore(path string) (datastore.DataStore, error) {
	if path == "" {
		return datastore.NewMemoryStore(), nil
	}
	store, err := datastore.NewSQLStore(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}
