package terminal

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"github.com/dmagro/querywatch/internal/monitor"
)

// RenderDashboard prints one row per query in snapshot's insertion order,
// the same table.New/AddRow/Print pipeline the teacher's own
// internal/output.RenderSnapshotTerminal uses for provider metrics.
func RenderDashboard(snapshot monitor.Snapshot) {
	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
	tbl := table.New("Alias", "Status", "Found", "Cycles", "Last Run", "URL")
	tbl.WithHeaderFormatter(headerFmt)

	for _, uid := range snapshot.Order() {
		st, ok := snapshot.Get(uid)
		if !ok {
			continue
		}
		tbl.AddRow(
			st.Alias,
			colorStatus(st.Status),
			colorFound(st.Found),
			colorCycles(st.Cycles, st.CyclesLimit),
			st.LastRun.Format("2006-01-02 15:04:05"),
			st.URL,
		)
	}

	tbl.Print()
}

// RenderWarnings prints a non-fatal warnings list, if any, dimmed so it
// reads as secondary to the main success/failure message.
func RenderWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stdout, dim("  warning: "+w))
	}
}

// RenderResult prints a bold success/failure line, matching the
// {success, msg} shape every Monitor operation returns.
func RenderResult(ok bool, msg string) {
	if ok {
		fmt.Println(bold(green(msg)))
		return
	}
	fmt.Println(bold(red(msg)))
}
