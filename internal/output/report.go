// Package output renders run results to the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/soakfire/soakfire/internal/harness"
)

// PrintReport outputs a human-readable run summary.
func PrintReport(w io.Writer, summary *harness.Summary) {
	fmt.Fprintln(w, "\n--- Soak Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", summary.RunID)
	fmt.Fprintf(w, "Iterations:        %d\n", summary.Total)
	fmt.Fprintf(w, "Passed:            %d\n", summary.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", summary.Failures)
	fmt.Fprintf(w, "Pass Rate:         %.1f%%\n", summary.PassRate)
	fmt.Fprintf(w, "Duration:          %s\n", summary.Duration)
	fmt.Fprintf(w, "Artifacts:         %s\n", summary.ArtifactDir)

	if summary.Prompts.Total > 0 {
		fmt.Fprintln(w, "\nPrompt Latency:")
		fmt.Fprintf(w, "  Requests:        %d (%d failed)\n", summary.Prompts.Total, summary.Prompts.Failures)
		fmt.Fprintf(w, "  Min:             %s\n", summary.Prompts.MinLatency)
		fmt.Fprintf(w, "  Max:             %s\n", summary.Prompts.MaxLatency)
		fmt.Fprintf(w, "  Mean:            %s\n", summary.Prompts.MeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", summary.Prompts.P50Latency)
		fmt.Fprintf(w, "  P99:             %s\n", summary.Prompts.P99Latency)
	}

	if summary.Failures > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, it := range summary.Iterations {
			if it.Success {
				continue
			}
			fmt.Fprintf(w, "  - iteration %d: %s", it.Index, it.Reason)
			if it.Detail != "" {
				fmt.Fprintf(w, " (%s)", it.Detail)
			}
			fmt.Fprintf(w, " [%s]\n", it.LogPath)
		}
		fmt.Fprintln(w, "\nBy Reason:")
		writeReasonCounts(w, summary.Iterations)
	}
}

// PrintJSONReport outputs the summary as machine-readable JSON.
func PrintJSONReport(w io.Writer, summary *harness.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func writeReasonCounts(w io.Writer, iterations []harness.Iteration) {
	counts := make(map[string]int)
	for _, it := range iterations {
		if !it.Success {
			counts[string(it.Reason)]++
		}
	}
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %-24s %d\n", reason, counts[reason])
	}
}
