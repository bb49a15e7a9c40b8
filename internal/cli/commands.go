package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/fuelsync/internal/auth"
)

func newAuthorizeURLCommand(open Opener, flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "authorize-url",
		Short: "Print the Strava consent URL for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, app *App, userID string) error {
				state, err := auth.IssueState(userID, app.StateTTL, app.Now(), app.Auth)
				if err != nil {
					return fmt.Errorf("issue state: %w", err)
				}
				url, err := app.Authorizer.AuthorizationURL(state)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags.JSON, map[string]string{"authorization_url": url}, url)
			})
		},
	}
}

func newSyncCommand(open Opener, flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch and store the user's most recent activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, app *App, userID string) error {
				result, err := app.Syncer.Sync(ctx, userID)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags.JSON,
					map[string]int{"synced_count": result.SyncedCount},
					fmt.Sprintf("synced %d activities for %s", result.SyncedCount, userID))
			})
		},
	}
}

func newDisconnectCommand(open Opener, flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Deauthorize and delete the user's Strava credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, app *App, userID string) error {
				if err := app.Connections.Disconnect(ctx, userID); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags.JSON,
					map[string]bool{"connected": false},
					fmt.Sprintf("%s disconnected", userID))
			})
		},
	}
}

type statusOutput struct {
	Connected bool       `json:"connected"`
	AthleteID string     `json:"athlete_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scope     string     `json:"scope,omitempty"`
}

func newStatusCommand(open Opener, flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the user is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, flags, func(ctx context.Context, app *App, userID string) error {
				status, err := app.Connections.Status(ctx, userID)
				if err != nil {
					return err
				}
				out := statusOutput{Connected: status.Connected, AthleteID: status.AthleteID, Scope: status.Scope}
				text := fmt.Sprintf("%s is not connected", userID)
				if status.Connected {
					expires := status.ExpiresAt.UTC()
					out.ExpiresAt = &expires
					text = fmt.Sprintf("%s connected as athlete %s, token expires %s", userID, status.AthleteID, expires.Format(time.RFC3339))
				}
				return printResult(cmd.OutOrStdout(), flags.JSON, out, text)
			})
		},
	}
}
