package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func outcomeColor(o models.CoordinationOutcome) *color.Color {
	switch o {
	case models.OutcomeSucceeded:
		return color.New(color.FgGreen)
	case models.OutcomePartial:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func allocationColor(s models.AllocationStatus) *color.Color {
	switch s {
	case models.AllocationCompleted:
		return color.New(color.FgGreen)
	case models.AllocationFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func printSyncOutcomes(w io.Writer, outcomes []models.SyncOutcome) {
	if len(outcomes) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSynchronization:")
	for _, o := range outcomes {
		line := fmt.Sprintf("  %s  %s  arrived [%s]", o.PointID, o.Type, strings.Join(o.Arrived, ", "))
		if len(o.Absent) > 0 {
			line += fmt.Sprintf("  absent [%s]", strings.Join(o.Absent, ", "))
		}
		if o.TimedOut {
			line += "  timed out"
		}
		if o.Value != nil {
			line += fmt.Sprintf("  value %v", o.Value)
		}
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Fprintln(w, line)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
