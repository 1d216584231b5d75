package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Exclude domains from dispatch",
	}

	var reason string
	add := &cobra.Command{
		Use:   "add DOMAIN",
		Short: "Blacklist a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			entry := crawler.BlacklistEntry{
				Domain:    strings.ToLower(strings.TrimSpace(args[0])),
				Reason:    reason,
				CreatedAt: app.Clock.Now(),
			}
			if err := app.Store.AddBlacklist(cmd.Context(), entry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blacklisted %s\n", entry.Domain)
			return nil
		},
	}
	add.Flags().StringVar(&reason, "reason", "", "why the domain is excluded")

	list := &cobra.Command{
		Use:   "list",
		Short: "List blacklisted domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			entries, err := app.Store.ListBlacklist(cmd.Context())
			if err != nil {
				return err
			}
			renderBlacklist(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newDomainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain",
		Short: "Per-domain crawl rules",
	}

	var disabled bool
	depth := &cobra.Command{
		Use:   "set-depth DOMAIN DEPTH",
		Short: "Override how deep sub-pages of a domain are followed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxDepth, err := strconv.Atoi(args[1])
			if err != nil || maxDepth < 0 {
				return fmt.Errorf("depth must be a non-negative integer, got %q", args[1])
			}
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			rule := crawler.MultipageRule{
				Domain:   strings.ToLower(strings.TrimSpace(args[0])),
				MaxDepth: maxDepth,
				Enabled:  !disabled,
			}
			if err := app.Store.SetMultipageRule(cmd.Context(), rule); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: max depth %d (enabled=%t)\n", rule.Domain, rule.MaxDepth, rule.Enabled)
			return nil
		},
	}
	depth.Flags().BoolVar(&disabled, "disabled", false, "store the rule without applying it")

	cmd.AddCommand(depth)
	return cmd
}
