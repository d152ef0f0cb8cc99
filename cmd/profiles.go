package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/qprofile/internal/identity"
	"github.com/zjrosen/qprofile/internal/presentation"
	"github.com/zjrosen/qprofile/internal/ui/profilepicker"
)

var (
	outputFormat   string
	refreshProfile bool
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List, show and select profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the profiles available to the current connection",
	Long: `List the profiles available to the current connection.

Every configured endpoint is queried concurrently. An endpoint that fails or
times out contributes no profiles. When exactly one endpoint returns profiles
and none of them is selected yet, its first profile becomes active.

Examples:
  qprofile profiles list
  qprofile profiles list --refresh -o json | jq '.[].arn'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := presentation.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		disc, err := a.Service().Refresh(cmd.Context(), refreshProfile)
		if err != nil {
			return explain(err)
		}
		active, _, err := a.Service().Current()
		if err != nil {
			return explain(err)
		}
		return presentation.NewFormatter(cmd.OutOrStdout(), format).
			FormatProfiles(presentation.FromProfiles(disc.Profiles(), active.ARN))
	},
}

var profilesCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the active profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := presentation.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p, ok, err := a.Service().Current()
		if err != nil {
			return explain(err)
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No profile selected")
			return nil
		}
		return presentation.NewFormatter(cmd.OutOrStdout(), format).
			FormatProfile(presentation.FromProfile(p, true))
	},
}

var profilesSelectCmd = &cobra.Command{
	Use:   "select [ARN]",
	Short: "Make a profile active",
	Long: `Make a profile active for the current connection.

Without an ARN an interactive picker lists the available profiles. Nothing is
shown when the connection has no profiles.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		svc := a.Service()

		arn := ""
		if len(args) == 1 {
			arn = args[0]
		} else {
			disc, err := svc.Discover(ctx, refreshProfile)
			if err != nil {
				return explain(err)
			}
			profiles := disc.Profiles()
			if len(profiles) == 0 {
				return nil
			}
			active, _, _ := svc.Current()
			chosen, ok, err := profilepicker.Run(ctx, "Select a profile", profiles, active.ARN,
				cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			arn = chosen.ARN
		}

		p, _, err := svc.Select(ctx, arn)
		if err != nil {
			return explain(err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Now using profile %s\n", p.Name)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{profilesListCmd, profilesCurrentCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	}
	profilesListCmd.Flags().BoolVar(&refreshProfile, "refresh", false, "bypass the discovery cache")
	profilesSelectCmd.Flags().BoolVar(&refreshProfile, "refresh", false, "bypass the discovery cache")

	profilesCmd.AddCommand(profilesListCmd, profilesCurrentCmd, profilesSelectCmd)
	rootCmd.AddCommand(profilesCmd)
}

// explain adds a hint to errors a user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, identity.ErrNoConnection):
		return fmt.Errorf("%w (sign in with IAM Identity Center, or set identity.token_file)", err)
	case errors.Is(err, identity.ErrTokenExpired):
		return fmt.Errorf("%w (sign in again to refresh the token cache)", err)
	default:
		return err
	}
}
