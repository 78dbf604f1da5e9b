// SPDX-License-Identifier: MIT
package repofleet

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skaphos/repofleet/internal/dashboard"
	"github.com/skaphos/repofleet/internal/termstyle"
)

// widthTier buckets the terminal width. Tables shorten cells and drop
// columns as the tier narrows.
type widthTier int

const (
	tierWide widthTier = iota
	tierNarrow
	tierTiny
)

const (
	narrowTableWidth = 100
	tinyTableWidth   = 80
)

var getTerminalSize = term.GetSize

// tableWidth reports the width of stdout when it is a terminal.
func tableWidth(cmd *cobra.Command) (int, bool) {
	if cmd == nil {
		return 0, false
	}
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(file.Fd())
	if !isTerminalFD(fd) {
		return 0, false
	}
	width, _, err := getTerminalSize(fd)
	if err != nil || width <= 0 {
		return 0, false
	}
	return width, true
}

func tierForWidth(width int) widthTier {
	switch {
	case width <= 0:
		return tierWide
	case width < tinyTableWidth:
		return tierTiny
	case width < narrowTableWidth:
		return tierNarrow
	default:
		return tierWide
	}
}

// outputTier is tierWide when stdout is not a terminal, so piped output
// keeps every column untruncated.
func outputTier(cmd *cobra.Command) widthTier {
	width, ok := tableWidth(cmd)
	if !ok {
		return tierWide
	}
	return tierForWidth(width)
}

// cellLimits caps cell length per tier; zero means unlimited. A tier with
// no limit of its own falls back to the next wider one.
type cellLimits struct {
	wide   int
	narrow int
	tiny   int
}

var (
	registryCellLimits = cellLimits{narrow: 48, tiny: 32}
	historyCellLimits  = cellLimits{narrow: 60, tiny: 40}
	fleetCellLimits    = cellLimits{narrow: 48, tiny: 32}
)

func (l cellLimits) forTier(tier widthTier) int {
	if tier == tierTiny && l.tiny > 0 {
		return l.tiny
	}
	if tier != tierWide && l.narrow > 0 {
		return l.narrow
	}
	return l.wide
}

func (l cellLimits) forCommand(cmd *cobra.Command) int {
	return l.forTier(outputTier(cmd))
}

// fleetColumn is one column of the fleet table. It is shown while the
// output tier is no narrower than narrowest.
type fleetColumn struct {
	header    string
	narrowest widthTier
	cell      func(row dashboard.Row, marked bool) string
}

var fleetColumns = []fleetColumn{
	{header: "NAME", narrowest: tierTiny, cell: fleetNameCell},
	{header: "BRANCH", narrowest: tierNarrow, cell: func(row dashboard.Row, _ bool) string { return formatBranch(row) }},
	{header: "DRIFT", narrowest: tierTiny, cell: func(row dashboard.Row, _ bool) string {
		return termstyle.Colorize(colorOutputEnabled, formatDrift(row), driftColor(row))
	}},
	{header: "STATE", narrowest: tierTiny, cell: func(row dashboard.Row, _ bool) string {
		return termstyle.Colorize(colorOutputEnabled, formatState(row), termstyle.StateColor(row.State))
	}},
	{header: "MESSAGE", narrowest: tierTiny, cell: func(row dashboard.Row, _ bool) string { return rowMessage(row) }},
	{header: "PATH", narrowest: tierWide, cell: func(row dashboard.Row, _ bool) string { return row.Target.Path }},
}

func fleetNameCell(row dashboard.Row, marked bool) string {
	if marked {
		return "> " + row.Target.DisplayName()
	}
	return row.Target.DisplayName()
}

func fleetColumnsFor(tier widthTier) []fleetColumn {
	out := make([]fleetColumn, 0, len(fleetColumns))
	for _, column := range fleetColumns {
		if tier <= column.narrowest {
			out = append(out, column)
		}
	}
	return out
}
