package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/quorum/internal/model"
	"github.com/ppiankov/quorum/internal/pipeline"
	"github.com/ppiankov/quorum/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	// noCache, sequential, strictModels, queryTimeout are defined in
	// query.go and shared here
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run multiple questions from a file in parallel",
	Long: `Batch processes multiple questions concurrently:
- Read questions from input file (one per line, # comments skipped)
- Run questions in parallel with configurable worker count
- Each question runs the full five-stage consensus pipeline
- Write an individual result JSON per question

Example:
  quorum batch questions.txt
  quorum batch questions.txt --concurrency 4 --output-dir ./answers
  quorum batch questions.txt --timeout 60 --no-cache`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Concurrency flags
	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of concurrent questions")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./quorum-answers", "output directory for result JSON files")
	batchCmd.Flags().DurationVar(&batchTimeout, "batch-timeout", 30*time.Minute, "total timeout for batch processing")

	// Inherit flags from query command
	batchCmd.Flags().IntVar(&queryTimeout, "timeout", 0, "per-stage timeout in seconds (default from options)")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	batchCmd.Flags().BoolVar(&sequential, "sequential", false, "query council models one at a time")
	batchCmd.Flags().BoolVar(&strictModels, "strict", false, "fail a stage when any of its models fails")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := model.DefaultOptions()
	opts.UseCache = !noCache
	opts.EnableParallel = !sequential
	opts.SkipFailedModels = !strictModels
	if queryTimeout > 0 {
		opts.Timeout = queryTimeout
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Quorum Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	// Create output directory
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// Create pipeline
	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	fmt.Fprintf(os.Stderr, "⚙️  Reading questions from file...\n")
	queries, err := worker.ReadQueries(file)
	if err != nil {
		return fmt.Errorf("read questions: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ Loaded %d questions\n", len(queries))
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "⚙️  Processing questions with %d workers...\n", concurrency)
	fmt.Fprintf(os.Stderr, "\n")

	pool := worker.NewPool[model.Options, *model.PipelineResult](p, concurrency)
	results := pool.Process(ctx, queries, opts)

	// Process results
	successCount := 0
	failureCount := 0

	for i, result := range results {
		if result.Err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Query, result.Err)
			continue
		}

		successCount++

		jsonPath := filepath.Join(outputDir, fmt.Sprintf("answer-%03d.json", i+1))
		if err := writeResultJSON(result.Result, jsonPath); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Query, err)
			continue
		}

		fmt.Fprintf(os.Stderr, "✓ %s (consensus: %.2f)\n", result.Query, result.Result.Aggregation.ConsensusScore)
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d questions\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}
