package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/psantana5/zinitctl/pkg/zinit"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

// colorState renders a service state for table output
func colorState(s zinit.ServiceState) string {
	switch s.State {
	case zinit.StateRunning, zinit.StateSuccess:
		return green(s.String())
	case zinit.StateSpawned, zinit.StateBlocked:
		return yellow(s.String())
	case zinit.StateError, zinit.StateFailure:
		return red(s.String())
	default:
		return s.String()
	}
}

func printJSON(w io.Writer, v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(output))
	return nil
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
