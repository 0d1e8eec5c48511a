package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

func newFollowCmd() *cobra.Command {
	var (
		channelID  string
		endpointID string
		original   bool
	)
	cmd := &cobra.Command{
		Use:   "follow <external-id>",
		Short: "Follows a reviewer in a channel and delivers their latest review there",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			notifier, _, err := app.Notifications()
			if err != nil {
				return err
			}
			user, err := app.Users().LookupUser(ctx, args[0])
			if err != nil {
				return err
			}
			followed, err := app.Repository().IsFollowed(ctx, user.ID, channelID)
			if err != nil {
				return err
			}
			if followed {
				return fmt.Errorf("%s in %s: %w", user.DisplayName, channelID, tracker.ErrAlreadyFollowing)
			}
			provisioned := endpointID == ""
			if provisioned {
				if endpointID, err = notifier.ProvisionEndpoint(ctx, channelID); err != nil {
					return err
				}
			}
			f, err := app.Users().Follow(ctx, user.ID, channelID, original, endpointID)
			if err != nil {
				if provisioned {
					orphan := tracker.Following{ChannelID: channelID, EndpointID: endpointID}
					if rerr := notifier.Retire(ctx, orphan, user); rerr != nil {
						app.Logger().Warn("provisioned endpoint not retired",
							zap.String("endpoint_id", endpointID), zap.Error(rerr))
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now followed in %s\n", user.DisplayName, channelID)
			welcome(ctx, app, notifier, f, user)
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&endpointID, "endpoint", "", "existing delivery endpoint id (created when empty)")
	cmd.Flags().BoolVar(&original, "original", false, "deliver the original-language text when available")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

// welcome delivers the reviewer's latest review to a new follower only.
func welcome(ctx context.Context, app App, notifier Notifier, f tracker.Following, user tracker.ExternalUser) {
	logger := app.Logger().With(zap.String("external_id", user.ExternalID), zap.String("channel_id", f.ChannelID))
	review, err := app.Users().LatestReview(ctx, user.ID)
	if err != nil {
		logger.Warn("welcome review unavailable", zap.Error(err))
		return
	}
	if review == nil {
		logger.Info("no review to welcome with")
		return
	}
	if err := notifier.Deliver(ctx, f, *review); err != nil {
		logger.Warn("welcome delivery failed", zap.Error(err))
	}
}

func newUnfollowCmd() *cobra.Command {
	var channelID string
	cmd := &cobra.Command{
		Use:   "unfollow <external-id>",
		Short: "Stops following a reviewer in a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			user, err := app.Repository().UserByExternalID(ctx, args[0])
			if errors.Is(err, tracker.ErrNotFound) {
				return fmt.Errorf("unknown reviewer %s: %w", args[0], tracker.ErrNotFollowing)
			}
			if err != nil {
				return err
			}
			f, err := app.Users().Unfollow(ctx, user.ID, channelID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is no longer followed in %s\n", user.DisplayName, channelID)

			notifier, _, err := app.Notifications()
			if err != nil {
				app.Logger().Warn("delivery endpoint not retired", zap.Error(err))
				return nil
			}
			if err := notifier.Retire(ctx, f, user); err != nil {
				app.Logger().Warn("delivery endpoint not retired", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newFollowedCmd() *cobra.Command {
	var channelID string
	cmd := &cobra.Command{
		Use:   "followed",
		Short: "Lists the reviewers followed in a channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			users, err := app.Repository().FollowedInChannel(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintf(out, "nobody is followed in %s\n", channelID)
				return nil
			}
			for _, u := range users {
				fmt.Fprintf(out, "%s\t%s\n", u.ExternalID, u.DisplayName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}
