// Package batch runs independent ideas in parallel. Each job gets its own
// channel, transcript and output directory; a failed job never stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spboyer/ideaforge/internal/workflow"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// DefaultWorkers is used when no worker count is configured.
const DefaultWorkers = 4

// Job is one idea to run.
type Job struct {
	Name string `yaml:"name"`
	Idea string `yaml:"idea"`
}

type jobsFile struct {
	Ideas []Job `yaml:"ideas"`
}

// LoadJobs reads an ideas file of the form:
//
//	ideas:
//	  - name: habits
//	    idea: A habit tracker for teams
//
// Unnamed jobs are called idea-N.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ideas file: %w", err)
	}

	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing ideas file %s: %w", path, err)
	}
	if len(f.Ideas) == 0 {
		return nil, fmt.Errorf("ideas file %s lists no ideas", path)
	}

	seen := map[string]bool{}
	for i := range f.Ideas {
		job := &f.Ideas[i]
		job.Idea = strings.TrimSpace(job.Idea)
		if job.Idea == "" {
			return nil, fmt.Errorf("idea %d in %s is empty", i+1, path)
		}
		if job.Name == "" {
			job.Name = fmt.Sprintf("idea-%d", i+1)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("duplicate idea name %q in %s", job.Name, path)
		}
		seen[job.Name] = true
	}
	return f.Ideas, nil
}

// RunFunc runs a single job to completion.
type RunFunc func(ctx context.Context, job Job) (*workflow.Result, error)

// Outcome is the result of one job.
type Outcome struct {
	Job      Job
	Result   *workflow.Result
	Err      error
	Duration time.Duration
}

// Status is "done", the abort reason, or "error" for anything else.
func (o Outcome) Status() string {
	if o.Err == nil {
		return "done"
	}
	if reason, ok := workflow.AbortReason(o.Err); ok {
		return string(reason)
	}
	return "error"
}

// Summary counts outcomes.
type Summary struct {
	Total   int
	Done    int
	Aborted int
	Errors  int
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		var abort *workflow.AbortError
		switch {
		case o.Err == nil:
			s.Done++
		case errors.As(o.Err, &abort):
			s.Aborted++
		default:
			s.Errors++
		}
	}
	return s
}

// Listener is called as each job finishes, from the job's goroutine.
type Listener func(index int, outcome Outcome)

// Run executes jobs with at most workers in flight and returns outcomes in job
// order. Cancelling ctx stops jobs that have not started yet.
func Run(ctx context.Context, jobs []Job, workers int, fn RunFunc, onDone Listener) []Outcome {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	outcomes := make([]Outcome, len(jobs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)

	for i, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			var out Outcome
			if err := ctx.Err(); err != nil {
				out = Outcome{Job: job, Err: &workflow.AbortError{Reason: workflow.ReasonCancelled, Err: err}}
			} else {
				res, err := fn(ctx, job)
				out = Outcome{Job: job, Result: res, Err: err, Duration: time.Since(start)}
			}

			outcomes[i] = out
			if onDone != nil {
				mu.Lock()
				onDone(i, out)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}
