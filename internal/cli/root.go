// Package cli implements stravactl, the operator CLI for Strava connections.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/fuelsync/internal/api"
	"example.com/fuelsync/internal/auth"
	"example.com/fuelsync/internal/domain"
)

// App holds the services the commands operate on.
type App struct {
	Authorizer  api.Authorizer
	Connections *domain.ConnectionService
	Syncer      *domain.SyncService
	Auth        auth.Config
	StateTTL    time.Duration
	Now         func() time.Time
}

// Opener builds an App. The returned close func releases whatever the App holds open.
type Opener func(ctx context.Context) (*App, func(), error)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	UserID string
	JSON   bool
}

// NewRootCommand assembles stravactl. Services are opened lazily so --help works without a
// database.
func NewRootCommand(open Opener) *cobra.Command {
	flags := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "stravactl",
		Short: "Inspect and operate Strava connections",
		Long: `stravactl runs the fuelsync Strava operations against the configured store.

Examples:
  # Print a consent URL for a user
  stravactl authorize-url --user u-123

  # Pull the user's most recent activities
  stravactl sync --user u-123 --json`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.UserID, "user", "u", "", "User id to operate on")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "Output in JSON format")

	root.AddCommand(
		newAuthorizeURLCommand(open, flags),
		newSyncCommand(open, flags),
		newDisconnectCommand(open, flags),
		newStatusCommand(open, flags),
	)
	return root
}

// withApp validates the user flag, opens the App and runs fn against it.
func withApp(cmd *cobra.Command, open Opener, flags *GlobalFlags, fn func(context.Context, *App, string) error) error {
	userID := strings.TrimSpace(flags.UserID)
	if userID == "" {
		return errors.New("--user is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, closeFn, err := open(ctx)
	if err != nil {
		return fmt.Errorf("open services: %w", err)
	}
	defer closeFn()
	if app.Now == nil {
		app.Now = time.Now
	}
	return fn(ctx, app, userID)
}

func printResult(w io.Writer, asJSON bool, value any, text string) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
