package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/samara-industry/stockledger/internal/ledger"
)

// IntegrityChecker recomputes the ledger invariants.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]ledger.IntegrityIssue, error)
}

// CheckOptions defines available flags for the check command.
type CheckOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CheckSummary describes the JSON response for check.
type CheckSummary struct {
	OK     bool                    `json:"ok"`
	Counts map[string]int          `json:"counts"`
	Issues []ledger.IntegrityIssue `json:"issues"`
}

// IntegrityCLI runs ledger integrity scans from the command line.
type IntegrityCLI struct {
	checker IntegrityChecker
}

// NewIntegrityCLI wires the CLI to a checker.
func NewIntegrityCLI(checker IntegrityChecker) (*IntegrityCLI, error) {
	if checker == nil {
		return nil, fmt.Errorf("integrity cli: checker is required")
	}
	return &IntegrityCLI{checker: checker}, nil
}

// CheckCommand runs one scan and prints the outcome. It exits 10 when issues are found.
func (c *IntegrityCLI) CheckCommand(ctx context.Context, opts CheckOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	issues, err := c.checker.CheckIntegrity(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "check: %v\n", err)
		return 1
	}
	summary := buildCheckSummary(issues)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "check: encode json: %v\n", err)
			return 1
		}
	} else {
		renderCheckHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildCheckSummary(issues []ledger.IntegrityIssue) CheckSummary {
	sorted := make([]ledger.IntegrityIssue, len(issues))
	copy(sorted, issues)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind == sorted[j].Kind {
			return sorted[i].RefID < sorted[j].RefID
		}
		return sorted[i].Kind < sorted[j].Kind
	})
	counts := make(map[string]int)
	for _, issue := range sorted {
		counts[issue.Kind]++
	}
	return CheckSummary{OK: len(sorted) == 0, Counts: counts, Issues: sorted}
}

func renderCheckHuman(w io.Writer, summary CheckSummary) {
	if summary.OK {
		_, _ = fmt.Fprintln(w, "ledger consistent: no issues found")
		return
	}
	_, _ = fmt.Fprintf(w, "ledger has %d issue(s)\n", len(summary.Issues))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tREF\tDETAIL")
	for _, issue := range summary.Issues {
		_, _ = fmt.Fprintf(tw, "%s\t%s/%s\t%s\n", issue.Kind, issue.RefType, issue.RefID, issue.Detail)
	}
	_ = tw.Flush()
}
