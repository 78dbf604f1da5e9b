package repofleet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skaphos/repofleet/internal/cliio"
	"github.com/skaphos/repofleet/internal/dashboard"
	"github.com/skaphos/repofleet/internal/discovery"
	"github.com/skaphos/repofleet/internal/model"
	"github.com/skaphos/repofleet/internal/registry"
	"github.com/skaphos/repofleet/internal/termstyle"
)

func logOutputWriteFailure(cmd *cobra.Command, context string, err error) {
	if err == nil {
		return
	}
	infof(cmd, "warning: failed to write %s output: %v", context, err)
}

func writeRegistryTable(cmd *cobra.Command, entries []registry.Entry) error {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		status := string(entry.Status)
		if entry.Status == registry.StatusMissing {
			status = termstyle.Colorize(colorOutputEnabled, status, termstyle.Warn)
		}
		rows = append(rows, []string{
			entry.DisplayName(),
			entry.Path,
			yesNo(entry.Repo),
			strings.Join(entry.Groups, ","),
			status,
		})
	}
	limit := registryCellLimits.forCommand(cmd)
	return cliio.WriteTable(cmd.OutOrStdout(), true, false, []string{"NAME", "PATH", "REPO", "GROUPS", "STATUS"}, rows, limit)
}

func writeScanTable(cmd *cobra.Command, results []discovery.Result, created map[string]bool) error {
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			result.Target().DisplayName(),
			result.Path,
			yesNo(result.Bare),
			yesNo(created[result.Path]),
		})
	}
	return cliio.WriteTable(cmd.OutOrStdout(), true, false, []string{"NAME", "PATH", "BARE", "NEW"}, rows, registryCellLimits.forCommand(cmd))
}

// writeFleetTable renders dashboard rows with the columns that fit the
// terminal.
func writeFleetTable(cmd *cobra.Command, rows []dashboard.Row) error {
	tier := outputTier(cmd)
	columns := fleetColumnsFor(tier)
	headers := make([]string, 0, len(columns))
	for _, column := range columns {
		headers = append(headers, column.header)
	}

	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		marked := row.Selected && len(rows) > 1
		line := make([]string, 0, len(columns))
		for _, column := range columns {
			line = append(line, column.cell(row, marked))
		}
		cells = append(cells, line)
	}
	return cliio.WriteTable(cmd.OutOrStdout(), true, false, headers, cells, fleetCellLimits.forTier(tier))
}

func formatBranch(row dashboard.Row) string {
	switch {
	case !row.Target.Repo:
		return "-"
	case !row.Probed:
		return "?"
	case row.Health.Upstream == "":
		return row.Health.Branch
	default:
		return row.Health.Branch + "..." + row.Health.Upstream
	}
}

func formatDrift(row dashboard.Row) string {
	if !row.Target.Repo {
		return "-"
	}
	if row.ProbeErr != nil {
		return "error"
	}
	if !row.Probed {
		return "?"
	}
	var parts []string
	if row.Health.Ahead > 0 {
		parts = append(parts, "ahead "+strconv.Itoa(row.Health.Ahead))
	}
	if row.Health.Behind > 0 {
		parts = append(parts, "behind "+strconv.Itoa(row.Health.Behind))
	}
	if row.Health.Dirty {
		parts = append(parts, "dirty")
	}
	if len(parts) == 0 {
		if row.Health.Upstream == "" {
			return "no upstream"
		}
		return "clean"
	}
	return strings.Join(parts, ", ")
}

func driftColor(row dashboard.Row) string {
	switch {
	case row.ProbeErr != nil:
		return termstyle.Error
	case !row.Target.Repo || !row.Probed:
		return ""
	default:
		return termstyle.HealthColor(row.Health)
	}
}

func formatState(row dashboard.Row) string {
	if !row.Tracked {
		return "-"
	}
	switch row.State.Phase {
	case model.PhaseDone:
		if row.State.ExitCode != 0 {
			return fmt.Sprintf("failed (%d)", row.State.ExitCode)
		}
		return "ok"
	default:
		return string(row.State.Phase)
	}
}

func rowMessage(row dashboard.Row) string {
	if row.Tracked && row.State.InFlight() && row.LastLine != "" {
		return row.LastLine
	}
	if msg := row.State.MessageText(); msg != "" {
		return msg
	}
	if row.ProbeErr != nil {
		return row.ProbeErr.Error()
	}
	return ""
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
