package cmd

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/zinitctl/pkg/registrar"
	"github.com/psantana5/zinitctl/pkg/retry"
)

var (
	monitorTimeout     time.Duration
	monitorConcurrency int
	monitorRetries     int
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <name>...",
	Short: "Register services with zinit",
	Long: `Runs "zinit monitor <name>" for every name. zinit loads <name>.yaml from its
config directory and starts supervising the service. With several names the
registrations run concurrently and each one succeeds or fails on its own.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 0, "kill zinit after this long (0 uses zinit.timeout from config)")
	monitorCmd.Flags().IntVar(&monitorConcurrency, "concurrency", 0, "parallel registrations (0 uses agent.concurrency from config)")
	monitorCmd.Flags().IntVar(&monitorRetries, "retries", 0, "retry a failed registration this many times")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	log, err := newLogger("cli")
	if err != nil {
		return err
	}
	defer log.Sync()

	runner := newRunner(log)
	if monitorTimeout > 0 {
		runner.Timeout = monitorTimeout
	}

	if len(args) == 1 && monitorRetries == 0 {
		if err := runner.Monitor(cmd.Context(), args[0]); err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(cmd.OutOrStdout(), map[string]string{"service": args[0], "status": "monitored"})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %s is monitored\n", green(args[0]))
		return nil
	}

	concurrency := monitorConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Agent.Concurrency
	}

	reg := registrar.New(runner, registrar.Options{
		Concurrency: concurrency,
		Retry: retry.Config{
			MaxRetries:     monitorRetries,
			InitialBackoff: cfg.Agent.RetryDelay,
			MaxBackoff:     10 * cfg.Agent.RetryDelay,
			Multiplier:     2.0,
		},
		Logger: log,
	})

	results := reg.RegisterAll(cmd.Context(), args)
	if err := printResults(cmd, results); err != nil {
		return err
	}
	return registrar.Failed(results)
}

type resultView struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	Duration string `json:"duration"`
}

func resultViews(results []registrar.Result) []resultView {
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		v := resultView{
			Name:     res.Name,
			OK:       res.OK(),
			Attempts: res.Attempts,
			Duration: res.Duration.Round(time.Millisecond).String(),
		}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		views = append(views, v)
	}
	return views
}

func printResults(cmd *cobra.Command, results []registrar.Result) error {
	views := resultViews(results)
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), views)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Service", "Result", "Attempts", "Duration", "Error")
	for _, v := range views {
		result := green("ok")
		if !v.OK {
			result = red("failed")
		}
		table.Append(v.Name, result, fmt.Sprintf("%d", v.Attempts), v.Duration, v.Error)
	}
	return table.Render()
}
