package internal

import (
	"fmt"
	"strings"

	"github.com/sensiblebit/chainscan/internal/certdb"
)

// StateAnnotation returns a parenthetical annotation like
// " (2 expired, 1 revoked)" for the non-valid states with non-zero counts,
// or an empty string when there are none.
func StateAnnotation(byState map[certdb.State]int) string {
	var parts []string
	for _, s := range certdb.States() {
		if s == certdb.StateValid || byState[s] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", byState[s], s))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// FormatStats returns the one-line storage summary printed by the CLI.
func FormatStats(stats certdb.Stats) string {
	return fmt.Sprintf("%d certificates, %d valid%s", stats.Total, stats.ByState[certdb.StateValid], StateAnnotation(stats.ByState))
}
