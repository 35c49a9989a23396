package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/andys/queryload/schema"
)

// Task is one unit of work: a query and the sink its records go to
type Task struct {
	Name  string
	Query string
	Plan  *schema.Plan
	// NewSink is called once, on the worker that runs the task
	NewSink func(ctx context.Context) (Sink, error)
}

// Report is the outcome of one task
type Report struct {
	Task   string
	Result Result
	Err    error
}

// Progress tracks the progress of a job
type Progress struct {
	CurrentTask    string
	TotalTasks     int64
	ProcessedTasks int64
	FailedTasks    int64
	StartTime      time.Time
}

// Job runs tasks in parallel, each with its own connection, cursor and
// sink
type Job struct {
	driver *Driver
	pool   pond.Pool

	mu          sync.Mutex
	currentTask string
	total       atomic.Int64
	processed   atomic.Int64
	failed      atomic.Int64
	startTime   time.Time
}

// NewJob creates a job running at most maxWorkers tasks at a time
func NewJob(driver *Driver, maxWorkers int) *Job {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Job{
		driver:    driver,
		pool:      pond.NewPool(maxWorkers),
		startTime: time.Now(),
	}
}

// Run executes all tasks and waits for them. Reports are in task order.
// A failed task does not stop the others; the returned error joins every
// task failure.
func (j *Job) Run(ctx context.Context, tasks []Task) ([]Report, error) {
	j.total.Add(int64(len(tasks)))
	reports := make([]Report, len(tasks))
	group := j.pool.NewGroup()

	for i, task := range tasks {
		i, task := i, task
		group.Submit(func() {
			j.setCurrent(task.Name)
			reports[i] = j.runTask(ctx, task)
			if reports[i].Err != nil {
				j.failed.Add(1)
			}
			j.processed.Add(1)
		})
	}
	if err := group.Wait(); err != nil {
		return reports, err
	}

	var errs []error
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", r.Task, r.Err))
		}
	}
	return reports, errors.Join(errs...)
}

func (j *Job) runTask(ctx context.Context, task Task) Report {
	report := Report{Task: task.Name, Result: Result{Query: task.Query}}
	sink, err := task.NewSink(ctx)
	if err != nil {
		report.Err = fmt.Errorf("failed to create output: %w", err)
		return report
	}
	report.Result, report.Err = j.driver.Run(ctx, task.Query, task.Plan, sink)
	return report
}

func (j *Job) setCurrent(name string) {
	j.mu.Lock()
	j.currentTask = name
	j.mu.Unlock()
}

// GetProgress returns a snapshot of the job's progress
func (j *Job) GetProgress() Progress {
	j.mu.Lock()
	current := j.currentTask
	j.mu.Unlock()
	return Progress{
		CurrentTask:    current,
		TotalTasks:     j.total.Load(),
		ProcessedTasks: j.processed.Load(),
		FailedTasks:    j.failed.Load(),
		StartTime:      j.startTime,
	}
}

// Stop stops the worker pool and waits for running tasks to complete
func (j *Job) Stop() {
	j.pool.StopAndWait()
}
