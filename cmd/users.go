package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <external-id>",
		Short: "Resolves a reviewer, reading the profile on first sight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			user, err := app.Users().LookupUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", user.ID, user.ExternalID, user.DisplayName)
			return nil
		},
	}
}

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <external-id>",
		Short: "Prints the latest review of a reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			user, err := app.Users().LookupUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			review, err := app.Users().LatestReview(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if review == nil {
				fmt.Fprintf(out, "%s has no reviews\n", user.DisplayName)
				return nil
			}
			r := review.Review
			fmt.Fprintf(out, "%s reviewed %s: %d/5\n", user.DisplayName, r.PlaceName, r.StarRating)
			fmt.Fprintf(out, "observed %s\n", r.ObservedAt.UTC().Format(time.RFC3339))
			fmt.Fprintln(out, r.Text)
			if r.OriginalText != nil {
				fmt.Fprintf(out, "original: %s\n", *r.OriginalText)
			}
			return nil
		},
	}
}
