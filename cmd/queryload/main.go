package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/urfave/cli/v2"

	"github.com/andys/queryload/config"
	"github.com/andys/queryload/db"
	"github.com/andys/queryload/metrics"
	"github.com/andys/queryload/output/arrowipc"
	"github.com/andys/queryload/output/jsonl"
	"github.com/andys/queryload/page"
	"github.com/andys/queryload/schema"
	"github.com/andys/queryload/worker"
)

func main() {
	var cfg config.Config
	var (
		url, user, password, query, output string
		workers                             int
		metricsFile                         string
	)

	app := &cli.App{
		Name:  "queryload",
		Usage: "Run queries and load the typed results into Arrow, JSON Lines or a database table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Job config file path",
				Value:       "queryload.yaml",
				Destination: &cfg.ConfigFile,
			},
			&cli.StringFlag{
				Name:        "url",
				Aliases:     []string{"u"},
				Usage:       "Query engine URL (e.g., postgres://host:5432/db, mysql://host:3306/db or sqlite:///path/to.db)",
				EnvVars:     []string{"QUERYLOAD_URL"},
				Destination: &url,
			},
			&cli.StringFlag{
				Name:        "user",
				Usage:       "User passed to the driver",
				EnvVars:     []string{"QUERYLOAD_USER"},
				Destination: &user,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "Password passed to the driver",
				EnvVars:     []string{"QUERYLOAD_PASSWORD"},
				Destination: &password,
			},
			&cli.StringFlag{
				Name:        "query",
				Aliases:     []string{"q"},
				Usage:       "Query to run instead of the configured query or tasks",
				Destination: &query,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "Output path (use - for stdout with jsonl output)",
				Destination: &output,
			},
			&cli.IntFlag{
				Name:        "workers",
				Aliases:     []string{"w"},
				Usage:       "Number of queries run in parallel (default 4)",
				Value:       4,
				Destination: &workers,
			},
			&cli.StringFlag{
				Name:        "metrics-textfile",
				Usage:       "Write run metrics in Prometheus text format to this file",
				EnvVars:     []string{"QUERYLOAD_METRICS_TEXTFILE"},
				Destination: &metricsFile,
			},
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "Enable debug logging",
				Value:       false,
				Destination: &cfg.Debug,
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(os.Stderr, cfg.Debug)

			// Load configuration
			if err := config.LoadConfig(&cfg, cfg.ConfigFile); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Flags win over the config file
			if c.IsSet("url") {
				cfg.URL = url
			}
			if c.IsSet("user") {
				cfg.User = user
			}
			if c.IsSet("password") {
				cfg.Password = password
			}
			if c.IsSet("query") {
				cfg.Query = query
				cfg.Tasks = nil
			}
			if c.IsSet("output") {
				cfg.Output.Path = output
			}
			if c.IsSet("workers") || cfg.Workers == 0 {
				cfg.Workers = workers
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			runErr := run(ctx, &cfg, logger, m, os.Stdout)

			if metricsFile != "" {
				if err := m.WriteTextfile(metricsFile); err != nil {
					level.Warn(logger).Log("msg", "failed to write metrics", "path", metricsFile, "err", err)
				}
			}
			return runErr
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "queryload: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, debug bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	if debug {
		return level.NewFilter(logger, level.AllowDebug())
	}
	return level.NewFilter(logger, level.AllowInfo())
}

// run executes every task of the job. The returned error joins all task
// failures.
func run(ctx context.Context, cfg *config.Config, logger log.Logger, m *metrics.Metrics, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	s, err := cfg.Schema()
	if err != nil {
		return err
	}
	plan, err := schema.NewPlan(s, cfg.DefaultTimezone)
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	// Connect to the query engine
	source, err := db.Connect(cfg.URL, cfg.ConnOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to query engine: %w", err)
	}
	defer source.Close()

	dest := source
	if cfg.Output.Type == config.OutputTable && cfg.Output.URL != "" {
		dest, err = db.Connect(cfg.Output.URL, db.Options{})
		if err != nil {
			return fmt.Errorf("failed to connect to destination database: %w", err)
		}
		defer dest.Close()
	}

	level.Debug(logger).Log("msg", "connected", "source", source.Type, "output", cfg.Output.Type)

	opener := worker.OpenerFunc(func(ctx context.Context) (worker.Conn, error) {
		conn, err := source.Open(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	driver := worker.NewDriver(opener, policy, logger, m)
	job := worker.NewJob(driver, cfg.Workers)
	defer job.Stop()

	var tasks []worker.Task
	for _, t := range cfg.TaskList() {
		tasks = append(tasks, worker.Task{
			Name:    t.Name,
			Query:   t.Query,
			Plan:    plan,
			NewSink: sinkFactory(cfg, plan, dest, t, stdout),
		})
	}

	// Periodically log progress
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := job.GetProgress()
				level.Debug(logger).Log("msg", "progress", "processed", p.ProcessedTasks, "total", p.TotalTasks,
					"failed", p.FailedTasks, "current", p.CurrentTask, "elapsed", time.Since(p.StartTime))
			}
		}
	}()

	reports, err := job.Run(ctx, tasks)
	close(done)

	for _, r := range reports {
		if r.Err != nil {
			continue
		}
		level.Info(logger).Log("msg", "task complete", "task", r.Task, "rows", r.Result.Rows,
			"records", r.Result.Records, "skipped", r.Result.SkippedRows,
			"field_errors", r.Result.TotalFieldErrors(), "duration", r.Result.Duration)
	}
	if err != nil {
		return err
	}

	level.Info(logger).Log("msg", "all tasks processed successfully", "tasks", len(reports))
	return nil
}

func sinkFactory(cfg *config.Config, plan *schema.Plan, dest *db.Connection, task config.Task, stdout io.Writer) func(context.Context) (worker.Sink, error) {
	return func(ctx context.Context) (worker.Sink, error) {
		var out page.Output
		switch cfg.Output.Type {
		case config.OutputArrow:
			o, err := arrowipc.New(task.Output, plan)
			if err != nil {
				return nil, err
			}
			out = o
		case config.OutputJSONL:
			if task.Output == config.Stdout {
				out = jsonl.NewWriter(stdout, plan)
				break
			}
			o, err := jsonl.Create(task.Output, plan)
			if err != nil {
				return nil, err
			}
			out = o
		case config.OutputTable:
			out = db.NewTableOutput(ctx, dest, task.Table, plan.Schema().Names())
		default:
			return nil, fmt.Errorf("unknown output type %q", cfg.Output.Type)
		}
		return page.NewBuilder(out, cfg.Size()), nil
	}
}
