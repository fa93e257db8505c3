package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/depscan/pkg/lookup"
	"github.com/matzehuels/depscan/pkg/manifest"
)

type scanOptions struct {
	noCache  bool
	search   string
	kind     string
	jsonOut  bool
	packages string
}

// scanOutput is the --json document.
type scanOutput struct {
	SubmissionID string          `json:"submissionId"`
	Search       string          `json:"search,omitempty"`
	Kind         manifest.Kind   `json:"kind,omitempty"`
	Counts       lookup.Counts   `json:"counts"`
	Results      []lookup.Result `json:"results"`
}

// scanCommand creates the scan command.
func (c *CLI) scanCommand() *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan [file|-]",
		Short: "Look up every package in a manifest",
		Long: `Look up every package in a package.json, or in any text of whitespace-separated
package names, and print a table with descriptions and latest versions.

Input comes from the named file, from stdin with "-" (or when stdin is a
pipe), or from --packages.`,
		Example: `  depscan scan package.json
  cat package.json | depscan scan --kind dev
  depscan scan -p "react lodash express" --json
  depscan scan package.json --search test --no-cache`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(args, opts.packages, os.Stdin)
			if err != nil {
				return err
			}
			kind, err := manifest.ParseKind(opts.kind)
			if err != nil {
				return err
			}
			return c.runScan(cmd, input, kind, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "ignore cached registry responses")
	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "fuzzy filter on name and description")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "show only dependency or devDependency rows")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	cmd.Flags().StringVarP(&opts.packages, "packages", "p", "", "package names instead of a file")

	return cmd
}

func (c *CLI) runScan(cmd *cobra.Command, input string, kind manifest.Kind, opts scanOptions) error {
	ctx := cmd.Context()
	e, err := c.openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	prog := newProgress(c.Logger)
	var spinner *Spinner
	if !opts.jsonOut {
		spinner = newSpinnerWithContext(ctx, "Looking up packages")
	}

	orch := e.orchestrator(c.Logger, lookup.WithObserver(func(s lookup.Snapshot) {
		if spinner == nil || s.Phase != lookup.PhasePending {
			return
		}
		n := s.Counts()
		spinner.SetMessage(fmt.Sprintf("Looking up packages (%d/%d)", n.All-n.Pending, n.All))
	}))
	orch.SetUseCache(!opts.noCache)
	orch.SetSearch(opts.search)

	if spinner != nil {
		spinner.Start()
	}
	err = orch.Submit(ctx, input)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	snap := orch.Snapshot()
	results := snap.FilteredKind(kind)
	c.Logger.Debug("scan finished", "state", snap.String(), "shown", len(results))

	if opts.jsonOut {
		prog.done(fmt.Sprintf("Looked up %d packages", len(snap.Results)))
		if results == nil {
			results = []lookup.Result{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(scanOutput{
			SubmissionID: snap.SubmissionID,
			Search:       snap.Search,
			Kind:         kind,
			Counts:       snap.Counts(),
			Results:      results,
		})
	}

	if len(results) == 0 {
		printWarning("No packages match the current filter")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), resultsTable(results, 60, -1).Render())
	printSuccess("%s %s", summaryLine(snap.Results), StyleDim.Render(fmt.Sprintf("(%s)", prog.elapsed())))
	if shown := len(results); shown < len(snap.Results) {
		printDetail("Showing %d of %d", shown, len(snap.Results))
	}
	return nil
}

// readInput returns the manifest text from --packages, a file, or stdin.
func readInput(args []string, packages string, stdin *os.File) (string, error) {
	if packages != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("use either a file or --packages, not both")
		}
		return packages, nil
	}

	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", args[0], err)
		}
		return string(data), nil
	}

	if len(args) == 0 && isTerminal(stdin) {
		return "", fmt.Errorf("no input: pass a package.json, - for stdin, or --packages")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
