package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Submitter runs one query end to end. Satisfied by pipeline.Pipeline;
// declared here so the pool stays free of pipeline imports.
type Submitter[O, R any] interface {
	Submit(ctx context.Context, query string, opts O) (R, error)
}

// QueryResult is the result of one batch query.
type QueryResult[R any] struct {
	Query  string
	Result R
	Err    error
}

// Pool processes a set of queries through a Submitter with bounded
// concurrency.
type Pool[O, R any] struct {
	submitter Submitter[O, R]
	workers   int
}

// NewPool creates a batch pool with the given worker count.
func NewPool[O, R any](submitter Submitter[O, R], workers int) *Pool[O, R] {
	if workers <= 0 {
		workers = 1
	}
	return &Pool[O, R]{submitter: submitter, workers: workers}
}

// Process runs every query through the submitter, at most workers at a
// time, and returns results in input order.
func (p *Pool[O, R]) Process(ctx context.Context, queries []string, opts O) []QueryResult[R] {
	results := make([]QueryResult[R], len(queries))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := p.submitter.Submit(ctx, queries[i], opts)
				results[i] = QueryResult[R]{Query: queries[i], Result: res, Err: err}
			}
		}()
	}

	for i := range queries {
		select {
		case jobs <- i:
		case <-ctx.Done():
			results[i] = QueryResult[R]{Query: queries[i], Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// ReadQueries reads queries from a file, one per line, skipping blanks,
// comments, and duplicates.
func ReadQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var queries []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			queries = append(queries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return queries, nil
}
