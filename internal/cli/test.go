package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/loopsched/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string
	Golden string // golden directory; empty disables golden comparison
	Update bool
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML scenarios through the conformance harness.

Each scenario explores a workload with its rules and checks assertions on the
resulting traces, IR dumps and emitted source. With --golden, each scenario's
leaf traces are also compared against <golden>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  loopsched test ./testdata/scenarios
  loopsched test ./testdata/scenarios --filter "bind_*"
  loopsched test ./testdata/scenarios --golden ./testdata/golden --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare leaf traces against golden files in this directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, w io.Writer) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	var checks []harness.ResultCheck
	if opts.Golden != "" {
		checks = append(checks, goldenCheck(opts.Golden, opts.Update))
	}
	result, err := harness.RunSuite(scenariosDir, opts.Filter, checks...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if opts.Format == "json" {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else {
		outputTestText(w, result)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// goldenCheck compares a result's snapshot with <dir>/<name>.golden, or
// rewrites the file when update is set.
func goldenCheck(dir string, update bool) harness.ResultCheck {
	return func(s *harness.Scenario, r *harness.Result) []string {
		got, err := harness.MarshalSnapshot(s.Name, r)
		if err != nil {
			return []string{fmt.Sprintf("golden: %v", err)}
		}
		path := filepath.Join(dir, s.Name+".golden")
		if update {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return []string{fmt.Sprintf("golden update: %v", err)}
			}
			if err := os.WriteFile(path, got, 0o644); err != nil {
				return []string{fmt.Sprintf("golden update: %v", err)}
			}
			return nil
		}
		want, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return []string{fmt.Sprintf("golden file missing: %s (run with --update to create)", path)}
		}
		if err != nil {
			return []string{fmt.Sprintf("golden: %v", err)}
		}
		if !bytes.Equal(got, want) {
			return []string{fmt.Sprintf("golden file mismatch: %s (run with --update to regenerate)", path)}
		}
		return nil
	}
}

func outputTestText(w io.Writer, result *harness.SuiteResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, s := range result.Results {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
