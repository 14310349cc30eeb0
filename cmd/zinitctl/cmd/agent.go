package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/psantana5/zinitctl/pkg/api"
	"github.com/psantana5/zinitctl/pkg/metrics"
	"github.com/psantana5/zinitctl/pkg/ratelimit"
	"github.com/psantana5/zinitctl/pkg/registrar"
	"github.com/psantana5/zinitctl/pkg/retry"
	"github.com/psantana5/zinitctl/pkg/shutdown"
	"github.com/psantana5/zinitctl/pkg/tracing"
	"github.com/psantana5/zinitctl/pkg/zinit"
)

const shutdownTimeout = 30 * time.Second

var agentListen string

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Register configured services and serve the agent API",
	Long: `Registers agent.services with zinit, then serves:

  GET  /health
  GET  /metrics
  GET  /node
  GET  /services
  GET  /services/{name}
  POST /services/{name}/monitor

until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().StringVar(&agentListen, "listen", "", "HTTP listen address (default agent.listen from config)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	log, err := newLogger("agent")
	if err != nil {
		return err
	}

	shutdownMgr := shutdown.New(shutdownTimeout, log)
	shutdownMgr.Register("logger", func(context.Context) error {
		return log.Close()
	})

	tp, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "zinitctl-agent",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	shutdownMgr.Register("tracer", tp.Shutdown)

	collector := metrics.NewCollector()

	runner := newRunner(log)
	logCommand := runner.Observer
	runner.Observer = func(command, service string, took time.Duration, err error) {
		collector.ObserveCommand(command, service, took, err)
		logCommand(command, service, took, err)
	}

	reg := registrar.New(runner, registrar.Options{
		Concurrency: cfg.Agent.Concurrency,
		Rate:        cfg.Agent.Rate,
		Burst:       cfg.Agent.Burst,
		Retry: retry.Config{
			MaxRetries:     cfg.Agent.Retries,
			InitialBackoff: cfg.Agent.RetryDelay,
			MaxBackoff:     10 * cfg.Agent.RetryDelay,
			Multiplier:     2.0,
		},
		Metrics: collector,
		Tracer:  tp,
		Logger:  log,
	})

	client := zinit.NewClient(cfg.Zinit.Socket)
	client.SetLogger(log)

	handler := api.NewAgentHandler(client, reg, collector.Handler(), log)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	limiter := ratelimit.NewLimiter(cfg.Agent.HTTPRate, cfg.Agent.HTTPBurst)
	keyFunc := ratelimit.IPKeyFunc
	if len(cfg.Agent.TrustedProxies) > 0 {
		keyFunc = ratelimit.ProxyKeyFunc(cfg.Agent.TrustedProxies)
	}
	router.Use(limiter.Middleware(keyFunc))

	listen := agentListen
	if listen == "" {
		listen = cfg.Agent.Listen
	}

	// no WriteTimeout: POST .../monitor blocks until zinit exits
	srv := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Agent API listening", map[string]interface{}{"addr": listen})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Agent API failed", map[string]interface{}{"error": err})
			shutdownMgr.Trigger()
		}
	}()
	shutdownMgr.Register("http", shutdown.StopHTTPServer(srv))

	go cleanupLimiters(limiter, shutdownMgr.Done())

	bootCtx, cancelBoot := context.WithCancel(ctx)
	shutdownMgr.Register("registrations", func(context.Context) error {
		cancelBoot()
		return nil
	})
	if len(cfg.Agent.Services) > 0 {
		go func() {
			results := reg.RegisterAll(bootCtx, cfg.Agent.Services)
			if err := registrar.Failed(results); err != nil {
				log.Warn("Some services failed to register", map[string]interface{}{"error": err})
			}
		}()
	}

	return shutdownMgr.Wait(ctx)
}

func cleanupLimiters(limiter *ratelimit.Limiter, done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			limiter.CleanupOldLimiters(10 * time.Minute)
		}
	}
}
