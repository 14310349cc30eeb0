package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/zinitctl/pkg/resources"
	"github.com/psantana5/zinitctl/pkg/zinit"
)

var (
	waitTimeout time.Duration
	killSignal  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List services known to zinit",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show the status of a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a service and wait until it runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>...",
	Short: "Stop services and wait until they exit",
	Long: `Stops every service and waits for it to exit. Services still alive when
--timeout expires are sent SIGKILL.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStop,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <name>...",
	Short: "Drop stopped services from zinit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runForget,
}

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "Send a signal to a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

func init() {
	rootCmd.AddCommand(listCmd, statusCmd, startCmd, stopCmd, forgetCmd, killCmd)

	startCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "how long to wait for the service to run")
	stopCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "how long to wait before sending SIGKILL")
	killCmd.Flags().StringVarP(&killSignal, "signal", "s", "SIGTERM", "signal name or number")
}

func runList(cmd *cobra.Command, args []string) error {
	services, err := newClient().List(cmd.Context())
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), services)
	}

	if len(services) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No services")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Service", "State")
	for _, name := range zinit.SortedNames(services) {
		table.Append(name, colorState(services[name]))
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal services: %d\n", len(services))
	return nil
}

type statusView struct {
	zinit.ServiceStatus
	Usage *resources.ProcessUsage `json:"usage,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := newClient().Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	view := statusView{ServiceStatus: status}
	if status.Pid > 0 {
		// the process may be gone or owned by another user
		if usage, err := resources.Snapshot(cmd.Context(), status.Pid); err == nil {
			view.Usage = usage
		}
	}

	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), view)
	}

	out := cmd.OutOrStdout()
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Name", status.Name)
	table.Append("PID", fmt.Sprintf("%d", status.Pid))
	table.Append("State", colorState(status.State))
	table.Append("Target", string(status.Target))
	if view.Usage != nil {
		table.Append("CPU", fmt.Sprintf("%.1f%%", view.Usage.CPUPercent))
		table.Append("Memory", formatBytes(view.Usage.RSSBytes))
		table.Append("Threads", fmt.Sprintf("%d", view.Usage.Threads))
		table.Append("Started", view.Usage.StartedAt.Format(time.RFC3339))
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(status.After) > 0 {
		deps := make([]string, 0, len(status.After))
		for name := range status.After {
			deps = append(deps, name)
		}
		sort.Strings(deps)

		fmt.Fprintln(out, "\nDependencies:")
		for _, name := range deps {
			fmt.Fprintf(out, "  %s: %s\n", name, colorState(status.After[name]))
		}
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := newClient().StartWait(cmd.Context(), waitTimeout, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service %s is running\n", green(args[0]))
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	log, err := newLogger("cli")
	if err != nil {
		return err
	}
	defer log.Close()

	client := newClient()
	client.SetLogger(log)
	if err := client.StopWait(cmd.Context(), waitTimeout, args...); err != nil {
		return err
	}
	for _, name := range args {
		fmt.Fprintf(cmd.OutOrStdout(), "Service %s is stopped\n", name)
	}
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	client := newClient()
	for _, name := range args {
		if err := client.Forget(cmd.Context(), name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %s forgotten\n", name)
	}
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	sig, err := zinit.ParseSignal(killSignal)
	if err != nil {
		return err
	}
	if err := newClient().Kill(cmd.Context(), args[0], sig); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", zinit.SignalName(sig), args[0])
	return nil
}
