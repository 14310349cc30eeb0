// Package registrar registers batches of services with zinit: bounded
// concurrency, optional pacing and retries, one result per service.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/psantana5/zinitctl/pkg/logging"
	"github.com/psantana5/zinitctl/pkg/metrics"
	"github.com/psantana5/zinitctl/pkg/retry"
	"github.com/psantana5/zinitctl/pkg/tracing"
	"github.com/psantana5/zinitctl/pkg/zinit"
)

// DefaultConcurrency bounds RegisterAll when Options.Concurrency is unset
const DefaultConcurrency = 4

// Monitorer puts a service under zinit supervision.
// Both *zinit.Runner and *zinit.Client satisfy it.
type Monitorer interface {
	Monitor(ctx context.Context, name string) error
}

// MonitorFunc adapts a plain function to Monitorer
type MonitorFunc func(ctx context.Context, name string) error

// Monitor calls f(ctx, name)
func (f MonitorFunc) Monitor(ctx context.Context, name string) error {
	return f(ctx, name)
}

// Options configures a Registrar. The zero value means DefaultConcurrency,
// no pacing and no retries.
type Options struct {
	Concurrency int          // parallel registrations in RegisterAll
	Rate        float64      // registrations per second, <= 0 for unlimited
	Burst       int          // token bucket size when Rate > 0
	Retry       retry.Config // MaxRetries 0 keeps registration single-shot

	Metrics *metrics.Collector
	Tracer  *tracing.Provider
	Logger  *logging.Logger
}

// Result is the outcome of registering one service
type Result struct {
	Name     string        `json:"name"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// OK reports whether the service was registered
func (r Result) OK() bool {
	return r.Err == nil
}

// Registrar registers services through a Monitorer
type Registrar struct {
	monitor Monitorer
	opts    Options
	limiter *rate.Limiter
	tracer  *tracing.Provider
	log     *logging.Logger
}

// New creates a registrar
func New(m Monitorer, opts Options) *Registrar {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	r := &Registrar{
		monitor: m,
		opts:    opts,
		tracer:  opts.Tracer,
		log:     opts.Logger,
	}
	if opts.Rate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst)
	}
	if r.tracer == nil {
		r.tracer = tracing.NewNoop("zinitctl")
	}
	if r.log == nil {
		r.log = logging.NewNopLogger()
	}
	return r
}

// Register puts one service under supervision
func (r *Registrar) Register(ctx context.Context, name string) error {
	return r.register(ctx, "", name).Err
}

// RegisterAll registers every name concurrently. A failure never cancels the
// other registrations; results are returned in the order of names.
func (r *Registrar) RegisterAll(ctx context.Context, names []string) []Result {
	results := make([]Result, len(names))
	runID := uuid.New().String()

	r.log.Info("Registering services", map[string]interface{}{
		"run_id":      runID,
		"services":    len(names),
		"concurrency": r.opts.Concurrency,
	})

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = r.register(ctx, runID, name)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	r.log.Info("Registration run finished", map[string]interface{}{
		"run_id":    runID,
		"succeeded": len(results) - failed,
		"failed":    failed,
	})

	return results
}

func (r *Registrar) register(ctx context.Context, runID, name string) Result {
	res := Result{Name: name}
	started := time.Now()

	ctx, span := r.tracer.StartSpan(ctx, "zinit.register",
		attribute.String("zinit.service", name),
		attribute.String("zinitctl.run_id", runID),
	)

	if r.opts.Metrics != nil {
		defer r.opts.Metrics.TrackInflight()()
	}

	log := r.log.WithField("service", name)
	if runID != "" {
		log = log.WithField("run_id", runID)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			res.Err = fmt.Errorf("registration of '%s' not started: %w", name, err)
			res.Duration = time.Since(started)
			tracing.End(span, res.Err)
			log.Warn("Registration skipped", map[string]interface{}{"error": err})
			return res
		}
	}

	cfg := r.opts.Retry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveRetry(name)
		}
		tracing.AddEvent(ctx, "retry", attribute.Int("attempt", attempt))
		log.Warn("Registration failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err,
		})
	}

	res.Err = retry.Do(ctx, cfg, func() error {
		res.Attempts++
		err := r.monitor.Monitor(ctx, name)
		if err != nil && (zinit.IsLaunchError(err) || zinit.IsCanceled(err)) {
			return retry.Permanent(err)
		}
		return err
	})
	res.Duration = time.Since(started)
	span.SetAttributes(attribute.Int("zinitctl.attempts", res.Attempts))
	tracing.End(span, res.Err)

	if res.Err != nil {
		log.Error("Registration failed", map[string]interface{}{
			"attempts": res.Attempts,
			"error":    res.Err,
		})
		return res
	}

	log.Info("Service registered", map[string]interface{}{
		"attempts": res.Attempts,
		"duration": res.Duration.String(),
	})
	return res
}

// Failed joins the errors of all failed results, nil when all succeeded
func Failed(results []Result) error {
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
