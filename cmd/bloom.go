package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-crawler/internal/bloom"
)

func newBloomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bloom",
		Short: "Manage persisted bloom filters",
	}

	var (
		capacity  uint
		errorRate float64
	)
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			created, err := app.Blooms.Create(cmd.Context(), args[0], capacity, errorRate)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "filter %s already exists\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])
			return nil
		},
	}
	create.Flags().UintVar(&capacity, "capacity", 0, "expected item count (0 uses the configured default)")
	create.Flags().Float64Var(&errorRate, "error-rate", 0, "false positive rate (0 uses the configured default)")

	var addSource string
	add := &cobra.Command{
		Use:   "add NAME ITEM...",
		Short: "Add items to a filter",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			n, err := app.Blooms.Import(cmd.Context(), args[0], args[1:], addSource)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d new item(s)\n", n)
			return nil
		},
	}
	add.Flags().StringVar(&addSource, "source", "cli", "provenance recorded in the item log")

	var importSource string
	importCmd := &cobra.Command{
		Use:   "import NAME FILE",
		Short: "Add every non-empty line of FILE (\"-\" for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readItems(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			n, err := app.Blooms.Import(cmd.Context(), args[0], items, importSource)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d new of %d item(s)\n", n, len(items))
			return nil
		},
	}
	importCmd.Flags().StringVar(&importSource, "source", "import", "provenance recorded in the item log")

	check := &cobra.Command{
		Use:   "check NAME ITEM",
		Short: "Test membership of an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			present, err := app.Blooms.Check(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if present {
				fmt.Fprintln(cmd.OutOrStdout(), "probably present")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "absent")
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats NAME",
		Short: "Describe one filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			st, err := app.Blooms.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderBloomStats(cmd.OutOrStdout(), []bloom.Stats{st})
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Describe every filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			filters, err := app.Blooms.List(cmd.Context())
			if err != nil {
				return err
			}
			renderBloomStats(cmd.OutOrStdout(), filters)
			return nil
		},
	}

	rebuild := &cobra.Command{
		Use:   "rebuild NAME",
		Short: "Rebuild a filter from its item log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd)
			if err != nil {
				return err
			}
			st, err := app.Blooms.Rebuild(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderBloomStats(cmd.OutOrStdout(), []bloom.Stats{st})
			return nil
		},
	}

	cmd.AddCommand(create, add, importCmd, check, stats, list, rebuild)
	return cmd
}

// readItems returns the trimmed non-empty lines of path, or of stdin for "-".
func readItems(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	var items []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			items = append(items, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return items, nil
}
