package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var concurrency int

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Validate every JSON record in a directory",
	Long: `Batch validates every *.json file of a directory concurrently and prints
one summary line per file followed by the totals.

The exit code is 1 when any record is invalid or unreadable.

Example:
  kestrel batch ./extracted
  kestrel batch ./receipts --schema receipt --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addRecordFlags(batchCmd)
	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of files validated at once")
}

// BatchResult is the outcome of one file.
type BatchResult struct {
	File    string
	Verdict domain.Verdict
	Err     error
}

// Status is PASS, REVIEW or FAIL, or ERROR when the file could not be read.
func (r BatchResult) Status() string {
	if r.Err != nil {
		return "ERROR"
	}
	return (&domain.Report{Verdict: r.Verdict}).Status()
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(os.Stderr, cfg.Logging)

	schema, err := domain.ResolveSchema(schemaName, shapeName)
	if err != nil {
		return fmt.Errorf("schema %q: %w", schemaName, err)
	}

	engine, _, err := buildEngine(cfg.Engine, ruleOptions)
	if err != nil {
		return err
	}

	files, err := filepath.Glob(filepath.Join(args[0], "*.json"))
	if err != nil {
		return fmt.Errorf("list %s: %w", args[0], err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no *.json files in %s", args[0])
	}
	sort.Strings(files)

	results, err := ValidateFiles(cmd.Context(), engine, schema, files, concurrency)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	counts := map[string]int{}
	for _, r := range results {
		status := r.Status()
		counts[status]++
		if r.Err != nil {
			fmt.Fprintf(out, "%-40s %-6s %v\n", filepath.Base(r.File), status, r.Err)
			continue
		}
		fmt.Fprintf(out, "%-40s %-6s risk=%-8s confidence=%.2f errors=%d warnings=%d\n",
			filepath.Base(r.File), status, r.Verdict.FraudRisk, r.Verdict.Confidence,
			len(r.Verdict.Errors), len(r.Verdict.Warnings))
	}

	fmt.Fprintf(out, "\n%d files: %d pass, %d review, %d fail, %d error\n",
		len(results), counts[domain.StatusPass], counts[domain.StatusReview],
		counts[domain.StatusFail], counts["ERROR"])

	if counts[domain.StatusFail] > 0 || counts["ERROR"] > 0 {
		return ErrInvalidDocument
	}
	return nil
}

// ValidateFiles validates files with at most limit running at once.
// Results keep the order of files; a file that cannot be read gets Err set.
func ValidateFiles(ctx context.Context, engine *rules.Engine, schema domain.Schema, files []string, limit int) ([]BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 1
	}

	results := make([]BatchResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i].File = file

			data, err := readRecord(file)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Verdict = engine.Validate(data, schema)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
