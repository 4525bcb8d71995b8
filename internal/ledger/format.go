package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders a ledger as deterministic text used to brief agents on
// current project state. Sections are listed in insertion order.
func Format(l *TaskLedger) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task Ledger: %s\n", l.ProjectName)
	fmt.Fprintf(&b, "Project: %s | Customer: %s | Phase: %s (%s)\n",
		l.ProjectID, l.Customer, l.CurrentPhase, l.PhaseStatus)

	empty := len(l.Facts) == 0 && len(l.Assumptions) == 0 &&
		len(l.Decisions) == 0 && len(l.Blockers) == 0 && deliverableCount(l) == 0
	if empty {
		b.WriteString("\nno entries yet\n")
		return b.String()
	}

	if len(l.Facts) > 0 {
		b.WriteString("\n## Facts\n")
		for i, f := range l.Facts {
			fmt.Fprintf(&b, "%d. %s (source: %s)\n", i+1, f.Description, f.Source)
		}
	}

	if len(l.Assumptions) > 0 {
		b.WriteString("\n## Assumptions\n")
		for i, a := range l.Assumptions {
			fmt.Fprintf(&b, "%d. %s (confidence: %s)\n", i+1, a.Description, a.Confidence)
		}
	}

	if len(l.Decisions) > 0 {
		b.WriteString("\n## Decisions\n")
		for i, d := range l.Decisions {
			fmt.Fprintf(&b, "%d. %s (rationale: %s)\n", i+1, d.Description, d.Rationale)
		}
	}

	if len(l.Blockers) > 0 {
		b.WriteString("\n## Blockers\n")
		for i, bl := range l.Blockers {
			fmt.Fprintf(&b, "%d. %s (assignee: %s)\n", i+1, bl.Description, bl.Assignee)
		}
	}

	if deliverableCount(l) > 0 {
		b.WriteString("\n## Deliverables\n")
		// Iterate phases in delivery order so output is stable.
		for _, phase := range phaseOrder(l) {
			items := l.Deliverables[phase]
			if len(items) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s\n", phase)
			for i, d := range items {
				fmt.Fprintf(&b, "%d. %s [%s] %s\n", i+1, d.Name, d.VersionStatus, d.StoragePath)
			}
		}
	}

	return b.String()
}

func deliverableCount(l *TaskLedger) int {
	n := 0
	for _, items := range l.Deliverables {
		n += len(items)
	}
	return n
}

// phaseOrder returns deliverable map keys in delivery order, with any
// unrecognized keys sorted after the known phases.
func phaseOrder(l *TaskLedger) []string {
	known := []string{"DISCOVERY", "ARCHITECTURE", "POC", "PRODUCTION", "HANDOFF"}
	var order []string
	seen := make(map[string]bool)
	for _, p := range known {
		if _, ok := l.Deliverables[p]; ok {
			order = append(order, p)
			seen[p] = true
		}
	}
	var extra []string
	for p := range l.Deliverables {
		if !seen[p] {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
