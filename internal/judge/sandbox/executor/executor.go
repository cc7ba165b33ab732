// Package executor runs testcases with bounded concurrency.
package executor

import (
	"context"
	"sync"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/sandbox/result"
	appErr "github.com/ZeroOneDeveloper/code01-judge/pkg/errors"
)

// CaseFunc executes one testcase by index.
type CaseFunc func(ctx context.Context, index int) (result.CaseExecution, error)

// ProgressFunc observes completion counts. done only ever increases.
type ProgressFunc func(done, total int)

// Executor fans testcases out over a bounded worker set while keeping
// the result slice aligned with case indices.
type Executor struct {
	parallelism int
}

// New creates an executor. parallelism values below 1 are clamped to 1.
func New(parallelism int) *Executor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Executor{parallelism: parallelism}
}

// Run executes cases 0..total-1. The returned slice has exactly total
// entries and entry i always belongs to case i regardless of the order
// workers finished in. The first case error cancels the remaining
// cases and is returned after in-flight ones drain.
func (e *Executor) Run(ctx context.Context, total int, run CaseFunc, onProgress ProgressFunc) ([]result.CaseExecution, error) {
	if run == nil {
		return nil, appErr.ValidationError("case_func", "required")
	}
	results := make([]result.CaseExecution, total)
	if total == 0 {
		return results, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		firstErr error
	)

	sem := make(chan struct{}, e.parallelism)
	for i := 0; i < total; i++ {
		select {
		case <-runCtx.Done():
		case sem <- struct{}{}:
		}
		if runCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()

			exec, err := run(runCtx, index)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			exec.Index = index
			results[index] = exec
			done++
			if onProgress != nil {
				onProgress(done, total)
			}
		}(i)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return results, firstErr
	}
	if err := ctx.Err(); err != nil {
		return results, appErr.Wrap(err, appErr.Timeout)
	}
	return results, nil
}
