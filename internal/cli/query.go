package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/quorum/internal/model"
	"github.com/ppiankov/quorum/internal/pipeline"
)

var (
	outJSON      string
	queryTimeout int
	noCache      bool
	sequential   bool
	strictModels bool
	fullResult   bool
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask the model council a single question",
	Long: `Query runs one question through the full consensus pipeline:
- Collect independent first opinions from every council model
- Extract atomic claims from each opinion
- Peer-review the anonymized claims across models
- Aggregate verdicts into supported, rejected, disputed, and uncertain
- Synthesize a final answer from the consensus

Example:
  quorum query "What causes climate change?"
  quorum query "Is the Great Wall visible from space?" --full --json result.json
  quorum query "When was the transistor invented?" --timeout 60 --no-cache`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	// Output flags
	queryCmd.Flags().StringVar(&outJSON, "json", "", "write full result JSON to this path")
	queryCmd.Flags().BoolVar(&fullResult, "full", false, "print the full result JSON instead of the final answer")

	// Pipeline flags
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 0, "per-stage timeout in seconds (default from options)")
	queryCmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	queryCmd.Flags().BoolVar(&sequential, "sequential", false, "query council models one at a time")
	queryCmd.Flags().BoolVar(&strictModels, "strict", false, "fail a stage when any of its models fails")
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := args[0]

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

	if verbose {
		fmt.Fprintf(os.Stderr, "Query: %s\n", question)
		fmt.Fprintf(os.Stderr, "Timeout: %ds per stage\n", opts.Timeout)
		fmt.Fprintf(os.Stderr, "Cache: %v\n", opts.UseCache)
		fmt.Fprintln(os.Stderr)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	// The CLI deadline covers all five stages plus overhead.
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout*6)*time.Second)
	defer cancel()

	result, err := p.Submit(ctx, question, opts)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Collected %d opinions\n", len(result.Stage1Opinions))
		fmt.Fprintf(os.Stderr, "✓ Extracted %d claims\n", len(result.ParaphrasedClaims))
		fmt.Fprintf(os.Stderr, "✓ Consensus score: %.2f\n", result.Aggregation.ConsensusScore)
		fmt.Fprintf(os.Stderr, "✓ Completed in %.2fs\n", result.Metadata.ProcessingTime)
		fmt.Fprintln(os.Stderr)
	}

	if outJSON != "" {
		if err := writeResultJSON(result, outJSON); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", outJSON)
		}
	}

	if fullResult {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(result.FinalAnswer.FinalAnswer)
	if len(result.Metadata.Warnings) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, w := range result.Metadata.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	}
	return nil
}

func writeResultJSON(result *model.PipelineResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
