package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/zinitctl/internal/config"
	"github.com/psantana5/zinitctl/pkg/logging"
	"github.com/psantana5/zinitctl/pkg/zinit"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var (
	cfgFile      string
	outputFormat string
	logLevel     string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "zinitctl",
	Short: "Drive the zinit process supervisor",
	Long: `zinitctl registers services with zinit, inspects and controls them over the
zinit control socket, and runs an agent that registers a configured service
set at boot and serves a small HTTP API with Prometheus metrics.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and runs it with ctx
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/zinitctl/config.yaml or $HOME/.zinitctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// initConfig loads the config file and ZINITCTL_* environment
func initConfig(cmd *cobra.Command, args []string) error {
	if outputFormat != "table" && outputFormat != "json" {
		return fmt.Errorf("invalid --output %q: expected table or json", outputFormat)
	}

	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded
	return nil
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newLogger builds the logger for component, writing to the log directory
// as well when log.file is set
func newLogger(component string) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File {
		return logging.NewFileLogger(component, component, level, cfg.Log.JSON)
	}
	return logging.NewLogger(level, cfg.Log.JSON).WithField("component", component), nil
}

func newRunner(log *logging.Logger) *zinit.Runner {
	r := zinit.NewRunner()
	r.Binary = cfg.Zinit.Binary
	r.Timeout = cfg.Zinit.Timeout
	r.Observer = logObserver(log)
	return r
}

func newClient() *zinit.Client {
	return zinit.NewClient(cfg.Zinit.Socket)
}

func logObserver(log *logging.Logger) zinit.Observer {
	return func(command, service string, took time.Duration, err error) {
		fields := map[string]interface{}{
			"command":  command,
			"service":  service,
			"duration": took.String(),
		}
		if err != nil {
			fields["error"] = err
			log.Debug("zinit command failed", fields)
			return
		}
		log.Debug("zinit command done", fields)
	}
}
