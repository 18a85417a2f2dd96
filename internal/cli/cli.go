// ============================================================================
// Wavefront CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for running and inspecting wavefront schedules
//
// Command Structure:
//   wavefront                      # Root command
//   ├── run                        # Execute a grid
//   │   ├── --mode                # local | coordinator | worker
//   │   ├── --workers, -n         # Worker count (coordinator and local)
//   │   └── --age-groups, --time-steps, --step-delay, --listen, ...
//   ├── graph                      # Print step ranges, dependencies, lineages
//   │   └── --kind                # grid | independent | taskdeps
//   ├── trace <file>               # Print the timeline recorded by run
//   ├── config                     # Print the effective configuration
//   └── --config, -c               # YAML config file (all commands)
//
// Configuration Management:
//   YAML file mapped onto Config; flags that were set explicitly override it.
//   Without --config the built-in defaults are used.
//
// run Command:
//   local:       controller and worker pool share one process
//   coordinator: serves gRPC on server.listen, waits for workers.count workers
//   worker:      dials server.coordinator and runs until the shutdown sentinel
//
//   Examples:
//     ./wavefront run --mode local -n 3 --age-groups 4 --time-steps 10
//     ./wavefront run --mode coordinator -n 2 --listen :50061
//     ./wavefront run --mode worker --coordinator localhost:50061
//
// Signal Handling:
//   SIGINT and SIGTERM cancel the run context. A cancelled run is a fatal
//   error and the command exits non-zero.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ChuLiYu/wavefront/internal/depgraph"
	"github.com/ChuLiYu/wavefront/internal/logging"
	"github.com/ChuLiYu/wavefront/internal/trace"
	"github.com/ChuLiYu/wavefront/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version of the wavefront binary
const Version = "1.0.0"

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "wavefront",
		Short: "Wavefront: a dependency-driven cohort scheduler",
		Long: `Wavefront runs an age-structured population grid as cohort tasks:
- exact (task, step) dependencies from the grid shape
- one coordinator, N workers, in-process or over gRPC
- chunked one-sided data exchange
- Prometheus metrics, event trace and run report`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	rootCmd.AddCommand(buildRunCommand(&configFile))
	rootCmd.AddCommand(buildGraphCommand(&configFile))
	rootCmd.AddCommand(buildTraceCommand())
	rootCmd.AddCommand(buildConfigCommand(&configFile))

	return rootCmd
}

// gridFlags binds the flags shared by run, graph and config.
type gridFlags struct {
	ageGroups int
	timeSteps int
}

func (f *gridFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.ageGroups, "age-groups", 0, "number of age groups (A)")
	cmd.Flags().IntVar(&f.timeSteps, "time-steps", 0, "number of time steps (T)")
}

func (f *gridFlags) apply(cmd *cobra.Command, cfg *Config) {
	if cmd.Flags().Changed("age-groups") {
		cfg.Grid.AgeGroups = f.ageGroups
	}
	if cmd.Flags().Changed("time-steps") {
		cfg.Grid.TimeSteps = f.timeSteps
	}
}

// runFlags are the run command overrides.
type runFlags struct {
	gridFlags
	mode         string
	workers      int
	stepDelay    time.Duration
	stallTimeout time.Duration
	listen       string
	coordinator  string
	tracePath    string
	reportPath   string
	logLevel     string
	logFormat    string
	metrics      bool
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *Config) {
	f.gridFlags.apply(cmd, cfg)
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers.Count = f.workers
	}
	if flags.Changed("step-delay") {
		cfg.Workers.StepDelay = f.stepDelay
	}
	if flags.Changed("stall-timeout") {
		cfg.Scheduler.StallTimeout = f.stallTimeout
	}
	if flags.Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if flags.Changed("coordinator") {
		cfg.Server.Coordinator = f.coordinator
	}
	if flags.Changed("trace") {
		cfg.Trace.Path = f.tracePath
	}
	if flags.Changed("report") {
		cfg.Report.Path = f.reportPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = f.metrics
	}
}

func buildRunCommand(configFile *string) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the grid",
		Long:  "Run the grid in local, coordinator or worker mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := &runner{
				cfg:    cfg,
				out:    cmd.OutOrStdout(),
				logger: logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()),
			}
			return r.run(ctx, f.mode)
		},
	}

	f.gridFlags.register(cmd)
	cmd.Flags().StringVar(&f.mode, "mode", ModeLocal, "run mode: local, coordinator, worker")
	cmd.Flags().IntVarP(&f.workers, "workers", "n", 0, "number of workers")
	cmd.Flags().DurationVar(&f.stepDelay, "step-delay", 0, "simulated duration of one cohort step")
	cmd.Flags().DurationVar(&f.stallTimeout, "stall-timeout", 0, "fail when no message arrives for this long (0 waits forever)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "coordinator listen address")
	cmd.Flags().StringVar(&f.coordinator, "coordinator", "", "coordinator address (worker mode)")
	cmd.Flags().StringVar(&f.tracePath, "trace", "", "write the event trace to this file")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "write the run report to this file")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "log format: text, json")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics on metrics.port")

	return cmd
}

// Graph kinds accepted by the graph command
const (
	KindGrid        = "grid"
	KindIndependent = "independent"
	KindTaskDeps    = "taskdeps"
)

// graphFlags are the graph command options on top of the grid flags.
type graphFlags struct {
	gridFlags
	kind     string
	numTasks int
	deps     string
	workers  int
}

func buildGraphCommand(configFile *string) *cobra.Command {
	var f graphFlags

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print a task graph",
		Long: `Print every task's step range and dependencies.
grid (default) is the age x time grid, with the lineage of each age slot and
the worker its initial cohort is dealt to. independent is a farm of one-step
tasks; taskdeps adds task-level dependencies, e.g. --deps "2:0,1 3:2".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			f.apply(cmd, cfg)
			if cmd.Flags().Changed("workers") {
				cfg.Workers.Count = f.workers
			}

			out := cmd.OutOrStdout()
			switch f.kind {
			case KindGrid:
				return printGrid(out, cfg.Grid.AgeGroups, cfg.Grid.TimeSteps, cfg.Workers.Count)
			case KindIndependent:
				g, err := depgraph.Independent(f.numTasks)
				if err != nil {
					return err
				}
				return printGraph(out, KindIndependent, g)
			case KindTaskDeps:
				deps, err := parseTaskDeps(f.deps)
				if err != nil {
					return err
				}
				g, err := depgraph.FromTaskDependencies(f.numTasks, deps)
				if err != nil {
					return err
				}
				return printGraph(out, KindTaskDeps, g)
			default:
				return fmt.Errorf("%w: unknown graph kind %q (grid, independent, taskdeps)", types.ErrInvalidArgument, f.kind)
			}
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.kind, "kind", KindGrid, "graph kind: grid, independent, taskdeps")
	cmd.Flags().IntVar(&f.numTasks, "tasks", 4, "number of tasks (independent, taskdeps)")
	cmd.Flags().StringVar(&f.deps, "deps", "", `task dependencies "task:dep,dep task:dep" (taskdeps)`)
	cmd.Flags().IntVarP(&f.workers, "workers", "n", 0, "workers the initial cohorts are dealt to (grid)")
	return cmd
}

// parseTaskDeps reads "2:0,1 3:2" into {2: [0 1], 3: [2]}.
func parseTaskDeps(text string) (map[int][]int, error) {
	deps := make(map[int][]int)
	for _, entry := range strings.Fields(text) {
		task, list, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("%w: dependency %q is not task:dep,...", types.ErrInvalidArgument, entry)
		}
		var id int
		if _, err := fmt.Sscan(task, &id); err != nil {
			return nil, fmt.Errorf("%w: task id %q", types.ErrInvalidArgument, task)
		}
		for _, d := range strings.Split(list, ",") {
			var dep int
			if _, err := fmt.Sscan(d, &dep); err != nil {
				return nil, fmt.Errorf("%w: dependency id %q of task %d", types.ErrInvalidArgument, d, id)
			}
			deps[id] = append(deps[id], dep)
		}
	}
	return deps, nil
}

// printGrid prints the grid graph followed by its lineages.
func printGrid(out io.Writer, numAgeGroups, numTimeSteps, numWorkers int) error {
	g, err := depgraph.Analyze(numAgeGroups, numTimeSteps)
	if err != nil {
		return err
	}
	lineage, err := depgraph.NewLineage(numAgeGroups, numTimeSteps)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "grid %dx%d: %d tasks, %d cohort steps, critical path %d\n",
		numAgeGroups, numTimeSteps, g.NumTasks(), g.NumCohortSteps(), g.CriticalPath())
	if err := printTasks(out, g); err != nil {
		return err
	}

	// 初始 cohort 以 round-robin 分給 worker
	owner := make(map[int]int, numAgeGroups)
	for w := 0; w < numWorkers; w++ {
		for _, k := range lineage.InitialCohorts(w, numWorkers) {
			owner[k] = w
		}
	}

	fmt.Fprintln(out, "lineages:")
	for k, chain := range lineage.Chains() {
		ids := make([]string, len(chain))
		for i, id := range chain {
			ids[i] = fmt.Sprint(id)
		}
		line := fmt.Sprintf("  age %d: %s", k, strings.Join(ids, " -> "))
		if w, ok := owner[k]; ok {
			line += fmt.Sprintf("  (worker %d)", w)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// printGraph prints a graph that did not come from a grid.
func printGraph(out io.Writer, kind string, g *depgraph.Graph) error {
	fmt.Fprintf(out, "%s: %d tasks, %d steps, critical path %d\n",
		kind, g.NumTasks(), g.NumCohortSteps(), g.CriticalPath())
	return printTasks(out, g)
}

func printTasks(out io.Writer, g *depgraph.Graph) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTEPS\tDEPS")
	for id := 0; id < g.NumTasks(); id++ {
		r := g.StepRange(id)
		deps := g.Deps(id)
		parts := make([]string, 0, len(deps))
		for _, d := range deps {
			parts = append(parts, d.String())
		}
		depText := "-"
		if len(parts) > 0 {
			depText = strings.Join(parts, " ")
		}
		fmt.Fprintf(tw, "%d\t[%d,%d)\t%s\n", id, r.Begin, r.End, depText)
	}
	return tw.Flush()
}

func buildTraceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <file>",
		Short: "Print the timeline of a recorded run",
		Long:  "Verify a trace file written by 'wavefront run --trace' and print one span per task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTrace(cmd.OutOrStdout(), args[0])
		},
	}
}

func printTrace(out io.Writer, path string) error {
	events, err := trace.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load trace: %w", err)
	}

	run := ""
	if len(events) > 0 {
		run = events[0].Run
	}
	counts := trace.Counts(events)
	fmt.Fprintf(out, "run %s: %d events (assign %d, step %d, finish %d, available %d, shutdown %d)\n",
		run, len(events), counts[trace.EventAssign], counts[trace.EventStep], counts[trace.EventFinish],
		counts[trace.EventAvailable], counts[trace.EventShutdown])

	var origin time.Time
	if len(events) > 0 {
		origin = time.UnixMicro(events[0].Timestamp)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tTASK\tSTEPS\tSTART\tDURATION")
	for _, s := range trace.Timeline(events) {
		duration := "unfinished"
		if !s.End.IsZero() {
			duration = s.Duration().String()
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t+%s\t%s\n", s.Worker, s.Task, s.Steps, s.Start.Sub(origin), duration)
	}
	return tw.Flush()
}

func buildConfigCommand(configFile *string) *cobra.Command {
	var f gridFlags

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			f.apply(cmd, cfg)
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	f.register(cmd)
	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return BuildCLI().ExecuteContext(ctx)
}
