package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is a monitoring task run once per cron cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds the jobs for one service kind, keyed by unique name.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register appends a job. Names must be non-empty and unique because they
// label the job's metrics and log lines.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron job required")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("cron job name required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Name())
	}
	return out
}
