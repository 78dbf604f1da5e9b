package repofleet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/registry"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered directories",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		if err := s.reg.ValidatePaths(); err != nil {
			return err
		}

		filter, _ := cmd.Flags().GetString("filter")
		format, _ := cmd.Flags().GetString("format")
		entries := filterEntries(s.reg, filter)

		switch strings.ToLower(format) {
		case "json":
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		case "table":
			setColorOutputMode(cmd, format)
			logOutputWriteFailure(cmd, "list", writeRegistryTable(cmd, entries))
		default:
			return fmt.Errorf("unsupported format %q", format)
		}

		for _, entry := range entries {
			if entry.Status == registry.StatusMissing {
				raiseExitCode(1)
				break
			}
		}
		return nil
	},
}

// filterEntries keeps the entries whose names match filter, in path order.
func filterEntries(reg *registry.Registry, filter string) []registry.Entry {
	targets := registry.Filter(reg.Targets(), filter)
	entries := make([]registry.Entry, 0, len(targets))
	for _, target := range targets {
		if entry := reg.FindByPath(target.Path); entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries
}

func init() {
	listCmd.Flags().String("filter", "", "only show entries with a name containing this text")
	listCmd.Flags().String("format", "table", "output format: table or json")
	rootCmd.AddCommand(listCmd)
}
