package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pscheid92/livewatch/internal/adapter/filestore"
	"github.com/pscheid92/livewatch/internal/adapter/httpserver"
	"github.com/pscheid92/livewatch/internal/adapter/postgres"
	"github.com/pscheid92/livewatch/internal/domain"
	"github.com/pscheid92/livewatch/internal/platform/config"
)

const redactedSecret = "<redacted>"

// openStore selects Postgres when DATABASE_URL is set and the JSON state file otherwise.
func openStore(ctx context.Context, cfg *config.Config) (domain.StateStore, []httpserver.HealthCheck, func(), error) {
	defaults := domain.DefaultState(cfg.DefaultAdminUsername, cfg.DefaultAdminPassword)

	if cfg.DatabaseURL == "" {
		store := filestore.New(cfg.StateFile, defaults)
		check := httpserver.HealthCheck{
			Name: "state_file",
			Check: func(context.Context) error {
				_, err := os.Stat(filepath.Dir(store.Path()))
				return err
			},
		}
		return store, []httpserver.HealthCheck{check}, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	store := postgres.NewStateStore(pool, defaults)
	return store, []httpserver.HealthCheck{{Name: "postgres", Check: store.Ping}}, pool.Close, nil
}

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted state document",
	}
	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateValidateCommand())
	return cmd
}

func newStateShowCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current state document with secrets removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, _, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			state, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeState(cmd.OutOrStdout(), state, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml|json)")
	return cmd
}

func newStateValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a state file for problems",
		Long: `Decode a JSON state file and report problems that would prevent the
server from tracking its channels: missing admin credentials, channels without
a Twitch id, duplicate ids and logins that are not normalized.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			state, err := filestore.Decode(data)
			if err != nil {
				return err
			}
			if err := validateState(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d channels)\n", args[0], len(state.Channels))
			return nil
		},
	}
}

func writeState(w io.Writer, state domain.State, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(state); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(redact(state))
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

func redact(state domain.State) domain.State {
	out := state.Clone()
	if out.Admin.Password != "" {
		out.Admin.Password = redactedSecret
	}
	if out.Twitch.ClientSecret != "" {
		out.Twitch.ClientSecret = redactedSecret
	}
	return out
}

func validateState(state domain.State) error {
	var errs []error
	if state.Admin.Username == "" || state.Admin.Password == "" {
		errs = append(errs, errors.New("admin username and password must be set"))
	}

	owners := make(map[string]string, len(state.Channels))
	for _, login := range slices.Sorted(maps.Keys(state.Channels)) {
		record := state.Channels[login]
		if login != domain.NormalizeLogin(login) {
			errs = append(errs, fmt.Errorf("channel %q: login is not lowercase and trimmed", login))
		}
		if !record.Subscribable() {
			errs = append(errs, fmt.Errorf("channel %q: missing channel_id", login))
			continue
		}
		if other, ok := owners[record.ChannelID]; ok {
			errs = append(errs, fmt.Errorf("channel %q: channel_id %s already used by %q", login, record.ChannelID, other))
			continue
		}
		owners[record.ChannelID] = login
	}
	if state.Twitch.ClientID != "" && state.Twitch.ClientSecret == "" {
		errs = append(errs, errors.New("twitch client_secret is missing"))
	}
	if state.Discord.Webhook != "" && !strings.HasPrefix(state.Discord.Webhook, "https://") {
		errs = append(errs, fmt.Errorf("discord webhook %q is not an https URL", state.Discord.Webhook))
	}

	return errors.Join(errs...)
}
