// Package cmd defines and implements the CLI commands of the review notifier.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/config"
	"github.com/JakeFAU/review-notifier/internal/server"
	"github.com/JakeFAU/review-notifier/internal/sweep"
	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Users is the user-facing side of the synchronization policy.
type Users interface {
	LookupUser(ctx context.Context, externalID string) (tracker.ExternalUser, error)
	LatestReview(ctx context.Context, userID int64) (*tracker.ReviewWithOwner, error)
	Follow(ctx context.Context, userID int64, channelID string, wantsOriginal bool, endpointID string) (tracker.Following, error)
	Unfollow(ctx context.Context, userID int64, channelID string) (tracker.Following, error)
}

// Notifier manages delivery endpoints and single deliveries.
type Notifier interface {
	ProvisionEndpoint(ctx context.Context, channelID string) (string, error)
	Deliver(ctx context.Context, f tracker.Following, review tracker.ReviewWithOwner) error
	Retire(ctx context.Context, f tracker.Following, user tracker.ExternalUser) error
}

// Sweeper runs one synchronization sweep.
type Sweeper interface {
	Run(ctx context.Context) (sweep.Summary, error)
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Serve(ctx context.Context) error
	Migrate(ctx context.Context) error
	Repository() tracker.Repository
	Users() Users
	// Notifications fails when message delivery is not configured.
	Notifications() (Notifier, Sweeper, error)
}

// appFactory builds the App once flags are parsed.
type appFactory func(ctx context.Context, cfgFile string) (App, error)

type serverApp struct {
	*server.App
}

func (a serverApp) Repository() tracker.Repository { return a.Repo }

func (a serverApp) Users() Users { return a.Syncer }

func (a serverApp) Notifications() (Notifier, Sweeper, error) {
	if err := a.RequireNotifications(); err != nil {
		return nil, nil, err
	}
	return a.Dispatcher, a.Runner, nil
}

func newServerApp(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{App: app}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(factory appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "review-notifier",
		Short: "Watches map reviewers and posts their new reviews to chat channels.",
		Long: `review-notifier follows reviewers on a mapping service. It periodically
re-reads each followed reviewer's latest review in a headless browser and
posts new ones to every chat channel that follows them.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := factory(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env NOTIFIER_* overrides)")

	cmd.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newMigrateCmd(),
		newLookupCmd(),
		newLatestCmd(),
		newFollowCmd(),
		newUnfollowCmd(),
		newFollowedCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(newServerApp).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
