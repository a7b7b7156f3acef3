// Package devpool runs competing developer workers for the development
// stage and arbitrates a winner, grounded on the teacher's
// SmartExecutor.Execute parallel step-execution loop: bounded-concurrency
// goroutines feed a results channel that the caller drains until every
// worker has reported; a per-worker deadline cancels that worker's context.
package devpool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/artemis-pipeline/artemis/core"
)

// Scorecard is a worker's self-reported assessment of the artifact it
// produced. Scores are 0-100; CriticalIssues disqualifies the worker
// outright regardless of Overall.
type Scorecard struct {
	Overall        int `json:"overall"`
	Security       int `json:"security"`
	GDPR           int `json:"gdpr"`
	Accessibility  int `json:"accessibility"`
	CodeQuality    int `json:"code_quality"`
	CriticalIssues int `json:"critical_issues"`
}

// Worker produces an artifact under dir and reports a Scorecard for it.
// Implementations should treat dir as theirs alone - the pool gives each
// worker a distinct subdirectory of the run's temp directory.
type Worker interface {
	Name() string
	Develop(ctx context.Context, dir string) (Scorecard, error)
}

// Result is one worker's outcome, timestamped at completion so arbitration
// can break overall/security/accessibility ties by earliest finish.
type Result struct {
	WorkerName  string
	Dir         string
	Scorecard   Scorecard
	Err         error
	CompletedAt time.Time
}

// Pool runs a bounded number of Workers concurrently and arbitrates a
// single winner among those that complete without a disqualifying error.
type Pool struct {
	maxConcurrent int
	timeout       time.Duration
	logger        core.Logger
}

// New creates a Pool bounded to cfg.MaxConcurrentWorkers running workers,
// each allotted cfg.WorkerTimeout, after which its context is cancelled.
func New(cfg core.ArbitrationConfig, logger core.Logger) *Pool {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	max := cfg.MaxConcurrentWorkers
	if max <= 0 {
		max = 1
	}
	timeout := cfg.WorkerTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Pool{maxConcurrent: max, timeout: timeout, logger: logger}
}

// Run develops baseDir/<worker-name> for every worker concurrently (bounded
// by maxConcurrent), giving each a context that is cancelled when ctx ends
// or the per-worker timeout elapses, waits until every worker has
// reported, and returns every Result - including failed ones - for the
// caller to arbitrate or log.
func (p *Pool) Run(ctx context.Context, baseDir string, workers []Worker) []Result {
	results := make(chan Result, len(workers))
	sem := make(chan struct{}, p.maxConcurrent)

	for _, w := range workers {
		w := w
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					results <- Result{
						WorkerName:  w.Name(),
						Err:         fmt.Errorf("developer worker panic: %v", r),
						CompletedAt: time.Now(),
					}
				}
			}()

			workerCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			dir := baseDir + "/" + w.Name()
			scorecard, err := w.Develop(workerCtx, dir)
			results <- Result{
				WorkerName:  w.Name(),
				Dir:         dir,
				Scorecard:   scorecard,
				Err:         err,
				CompletedAt: time.Now(),
			}
		}()
	}

	collected := make([]Result, 0, len(workers))
	for i := 0; i < len(workers); i++ {
		collected = append(collected, <-results)
	}
	return collected
}

// Arbitrate selects the winning Result among results: any worker with
// CriticalIssues>0 or a non-nil Err is disqualified; among the rest, the
// highest Overall wins, ties broken by Security, then Accessibility, then
// earliest CompletedAt. If every worker is disqualified, ok is false.
func Arbitrate(results []Result) (winner Result, ok bool) {
	eligible := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Err != nil || r.Scorecard.CriticalIssues > 0 {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return Result{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Scorecard.Overall != b.Scorecard.Overall {
			return a.Scorecard.Overall > b.Scorecard.Overall
		}
		if a.Scorecard.Security != b.Scorecard.Security {
			return a.Scorecard.Security > b.Scorecard.Security
		}
		if a.Scorecard.Accessibility != b.Scorecard.Accessibility {
			return a.Scorecard.Accessibility > b.Scorecard.Accessibility
		}
		return a.CompletedAt.Before(b.CompletedAt)
	})

	return eligible[0], true
}
