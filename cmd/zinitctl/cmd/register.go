package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/zinitctl/pkg/zinit"
)

var (
	regExec    string
	regTest    string
	regOneshot bool
	regAfter   []string
	regEnv     []string
	regLog     string
	regDir     string
	regStart   bool
	regTimeout time.Duration
)

// registerCmd represents the register command
var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Write a service definition and register it with zinit",
	Long: `Writes <dir>/<name>.yaml and runs "zinit monitor <name>". With --start the
command waits until zinit reports the service running.`,
	Example: `  zinitctl register redis --exec "redis-server --port 6379" --test "redis-cli ping" --after networkd
  zinitctl register init-disk --exec /sbin/init-disk --oneshot --env DISK=/dev/vda`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().StringVar(&regExec, "exec", "", "command zinit runs (required)")
	registerCmd.Flags().StringVar(&regTest, "test", "", "command that succeeds once the service is ready")
	registerCmd.Flags().BoolVar(&regOneshot, "oneshot", false, "run once, do not restart on exit")
	registerCmd.Flags().StringSliceVar(&regAfter, "after", nil, "services that must be running first")
	registerCmd.Flags().StringArrayVar(&regEnv, "env", nil, "environment variable KEY=VALUE (repeatable)")
	registerCmd.Flags().StringVar(&regLog, "log", "", "log type: ring, stdout or null")
	registerCmd.Flags().StringVar(&regDir, "dir", "", "service directory (default zinit.config_dir from config)")
	registerCmd.Flags().BoolVar(&regStart, "start", false, "wait until the service runs")
	registerCmd.Flags().DurationVar(&regTimeout, "start-timeout", 30*time.Second, "how long --start waits")
	registerCmd.MarkFlagRequired("exec")
}

func runRegister(cmd *cobra.Command, args []string) error {
	name := args[0]

	env, err := parseEnv(regEnv)
	if err != nil {
		return err
	}

	service := zinit.InitService{
		Exec:    regExec,
		Test:    regTest,
		Oneshot: regOneshot,
		After:   regAfter,
		Log:     zinit.LogType(regLog),
		Env:     env,
	}

	dir := regDir
	if dir == "" {
		dir = cfg.Zinit.ConfigDir
	}

	if err := zinit.AddService(dir, name, service); err != nil {
		return err
	}

	log, err := newLogger("cli")
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := newRunner(log).Monitor(cmd.Context(), name); err != nil {
		return err
	}

	if regStart {
		if err := newClient().StartWait(cmd.Context(), regTimeout, name); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Service %s registered\n", green(name))
	return nil
}

// parseEnv turns KEY=VALUE pairs into a map
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
