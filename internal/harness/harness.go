// Package harness sequences test iterations against a serving environment
// and aggregates their outcomes into a run summary.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/soakfire/soakfire/internal/adapter"
	"github.com/soakfire/soakfire/internal/artifact"
	"github.com/soakfire/soakfire/internal/config"
	"github.com/soakfire/soakfire/internal/driver"
	"github.com/soakfire/soakfire/internal/environ"
	"github.com/soakfire/soakfire/internal/metrics"
	"github.com/soakfire/soakfire/internal/probe"
	"github.com/soakfire/soakfire/internal/scan"
	"github.com/soakfire/soakfire/internal/tracing"
	"github.com/soakfire/soakfire/internal/watchdog"
)

// Summary accumulates per-iteration outcomes into the final run result.
type Summary struct {
	RunID       string        `json:"run_id"`
	Total       int           `json:"total"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	PassRate    float64       `json:"pass_rate_percent"`
	ArtifactDir string        `json:"artifact_dir"`
	Duration    time.Duration `json:"-"`
	DurationMs  float64       `json:"duration_ms"`
	Iterations  []Iteration   `json:"iterations"`
	Prompts     metrics.Stats `json:"prompts"`
}

// Options configure a Harness. Collaborators left nil are filled with
// production defaults; tests inject fakes.
type Options struct {
	Config   *config.Config
	Adapter  adapter.Adapter
	Provider environ.Provider
	RunDir   *artifact.RunDir
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Client   *http.Client

	// BaseURL overrides the default http://localhost:<port> target.
	BaseURL string
	// PollInterval overrides the 5s readiness poll cadence.
	PollInterval time.Duration

	Prober    *probe.Prober
	Scanner   *scan.Scanner
	Collector *metrics.Collector
	// Progress receives one human-readable line per completed iteration.
	Progress io.Writer
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("soakfire")
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.BaseURL == "" {
		o.BaseURL = fmt.Sprintf("http://localhost:%d", o.Config.Server.Port)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Prober == nil {
		o.Prober = probe.New(o.Client)
	}
	if o.Scanner == nil {
		o.Scanner = scan.New()
	}
	if o.Collector == nil {
		o.Collector = metrics.NewCollector()
	}
	if o.Progress == nil {
		o.Progress = io.Discard
	}
}

// Harness owns one run: N sequential iterations over a single adapter,
// provider, and artifact directory. Iterations never run in parallel;
// environments compete for the same port and device bindings.
type Harness struct {
	opt        Options
	driver     *driver.Driver
	launchCmd  string
	spec       environ.Spec
	persistent *environ.Handle
}

// New validates the derived launch plan and builds a Harness.
func New(opt Options) (*Harness, error) {
	opt.normalize()
	cfg := opt.Config

	extraArgs, err := config.FlattenServerArgs(cfg.ServerArgs)
	if err != nil {
		return nil, fmt.Errorf("server_args: %w", err)
	}
	launchCmd := opt.Adapter.BuildLaunchCommand(cfg.Server.ModelPath, cfg.Server.Port, extraArgs)

	mounts := append([]string(nil), cfg.Workspace.Mounts...)
	for _, m := range opt.Adapter.ExtraMounts() {
		mounts = append(mounts, m.Host+":"+m.Container)
	}

	h := &Harness{
		opt:       opt,
		launchCmd: launchCmd,
		spec: environ.Spec{
			Image:      cfg.Docker.Image,
			Command:    launchCmd,
			Entrypoint: opt.Adapter.EntrypointOverride(),
			Env:        cfg.Env,
			Mounts:     mounts,
			Devices:    cfg.Docker.Devices,
			ShmSize:    cfg.Docker.ShmSize,
			Network:    cfg.Docker.Network,
			Port:       cfg.Server.Port,
		},
	}
	h.driver = driver.New(opt.Client, opt.Adapter, opt.Collector, cfg.RatePerSecond)
	return h, nil
}

// Run drives the configured number of iterations and returns the summary.
// Iteration failures never propagate; only pre-run provisioning errors do.
func (h *Harness) Run(ctx context.Context) (*Summary, error) {
	cfg := h.opt.Config
	start := time.Now()
	summary := &Summary{
		RunID:       h.opt.RunDir.RunID,
		ArtifactDir: h.opt.RunDir.Path,
	}

	ctx, runSpan := tracing.StartRunSpan(ctx, h.opt.Tracer, summary.RunID)

	if cfg.Test.Mode == config.ModePersistent {
		name := "soakfire-" + strings.ToLower(h.opt.RunDir.RunID)
		handle, err := h.opt.Provider.CreatePersistent(ctx, h.spec, name)
		if err != nil {
			err = fmt.Errorf("create persistent environment: %w", err)
			tracing.EndSpan(runSpan, err)
			return nil, err
		}
		h.persistent = handle
		h.opt.Logger.Info("persistent environment created", zap.String("environment", name))
		// The handle may be replaced if a watchdog destroys the environment
		// mid-run, so tear down whatever is current at exit.
		defer func() { h.opt.Provider.Destroy(context.Background(), h.persistent) }()
	}

	for i := 1; i <= cfg.Test.NumLoops; i++ {
		it := h.runIteration(ctx, i)
		summary.Iterations = append(summary.Iterations, it)
		summary.Total++
		if it.Success {
			summary.Successes++
		} else {
			summary.Failures++
		}

		h.opt.Logger.Info("iteration complete",
			zap.Int("iteration", it.Index),
			zap.Bool("success", it.Success),
			zap.String("reason", string(it.Reason)),
			zap.Duration("elapsed", it.End.Sub(it.Start)),
			zap.String("log", it.LogPath),
		)
		fmt.Fprintf(h.opt.Progress, "[%d/%d] %s pass=%d fail=%d\n",
			it.Index, cfg.Test.NumLoops, it.Status(), summary.Successes, summary.Failures)

		if ctx.Err() != nil {
			h.opt.Logger.Warn("run interrupted, stopping before next iteration")
			break
		}
	}

	summary.Duration = time.Since(start)
	summary.DurationMs = float64(summary.Duration) / float64(time.Millisecond)
	if summary.Total > 0 {
		summary.PassRate = float64(summary.Successes) / float64(summary.Total) * 100
	}
	summary.Prompts = h.opt.Collector.Stats()
	tracing.EndSpan(runSpan, nil,
		attribute.Int("soakfire.successes", summary.Successes),
		attribute.Int("soakfire.failures", summary.Failures),
	)
	return summary, nil
}

// runIteration executes one full cycle:
// Created -> Launching -> AwaitingReady -> Driving -> Scanning -> Classified -> TornDown.
// Teardown runs on every path and always disarms the watchdog before the
// next iteration can arm its own.
func (h *Harness) runIteration(ctx context.Context, index int) (it Iteration) {
	cfg := h.opt.Config
	it = Iteration{
		Index:   index,
		Start:   time.Now(),
		State:   StateCreated,
		LogPath: h.opt.RunDir.IterationLogPath(index),
	}
	log := h.opt.Logger.With(zap.Int("iteration", index))

	ictx, span := tracing.StartIterationSpan(ctx, h.opt.Tracer, index)

	wd := watchdog.New()
	var env *environ.Handle
	var stopStream func()

	logFile, err := h.opt.RunDir.OpenIterationLog(index)
	if err != nil {
		it.classify(false, ReasonLaunchFailure, fmt.Sprintf("open iteration log: %v", err))
		tracing.EndSpan(span, err)
		it.State = StateTornDown
		return it
	}

	defer func() {
		// TornDown is reached from every state, including error paths.
		if it.State != StateClassified {
			it.classify(false, ReasonAborted, "iteration did not complete")
		}
		_, teardownSpan := tracing.StartPhaseSpan(ictx, h.opt.Tracer, "teardown")
		wd.Disarm()
		if stopStream != nil {
			stopStream()
		}

		// Teardown is best-effort and decoupled from the caller's context
		// so a cancelled run still cleans up.
		bg, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if env != nil {
			if env.Persistent {
				if stopErr := h.opt.Provider.StopWorkload(bg, env, h.opt.Adapter.ProcessPattern()); stopErr != nil {
					log.Warn("stop workload failed", zap.Error(stopErr))
				}
			} else {
				h.opt.Provider.Destroy(bg, env)
			}
		}
		_ = logFile.Close()

		final, renameErr := h.opt.RunDir.FinalizeIterationLog(index, it.Status())
		if renameErr != nil {
			log.Warn("finalize iteration log failed", zap.Error(renameErr))
		} else {
			it.LogPath = final
		}
		it.State = StateTornDown
		tracing.EndSpan(teardownSpan, nil)
		tracing.EndSpan(span, nil,
			attribute.Bool("soakfire.success", it.Success),
			attribute.String("soakfire.reason", string(it.Reason)),
		)
	}()

	// Launching.
	it.State = StateLaunching
	lctx, launchSpan := tracing.StartPhaseSpan(ictx, h.opt.Tracer, "launch")
	if cfg.Test.Mode == config.ModeEphemeral {
		name := fmt.Sprintf("soakfire-%d-%s", index, strings.ToLower(artifact.NewRunID()[:10]))
		env, err = h.opt.Provider.CreateEphemeral(lctx, h.spec, name)
		if err != nil {
			tracing.EndSpan(launchSpan, err)
			log.Error("environment launch failed", zap.Error(err))
			it.classify(false, ReasonLaunchFailure, err.Error())
			return it
		}
		log.Info("environment created", zap.String("environment", name))
	} else {
		env, err = h.ensurePersistent(lctx, log)
		if err != nil {
			tracing.EndSpan(launchSpan, err)
			it.classify(false, ReasonLaunchFailure, err.Error())
			return it
		}
		if err := h.opt.Provider.StartWorkload(lctx, env, h.launchCmd); err != nil {
			// The environment itself stays up; only the workload is retried
			// on the next iteration.
			tracing.EndSpan(launchSpan, err)
			log.Error("server start failed", zap.Error(err))
			it.classify(false, ReasonServerStartFailure, err.Error())
			return it
		}
	}
	tracing.EndSpan(launchSpan, nil)

	if stopStream, err = h.opt.Provider.StreamLogs(ictx, env, logFile); err != nil {
		log.Warn("log capture unavailable", zap.Error(err))
		stopStream = nil
	}

	// Watchdog arm strictly precedes readiness probing.
	wd.Arm(cfg.Timeouts.Container, func() {
		log.Warn("watchdog triggered, destroying environment",
			zap.Duration("ceiling", cfg.Timeouts.Container))
		fmt.Fprintf(logFile, "[soakfire] WatchdogTriggered: iteration exceeded %s ceiling\n", cfg.Timeouts.Container)
		bg, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		h.opt.Provider.Destroy(bg, env)
	})

	// AwaitingReady.
	it.State = StateAwaitingReady
	healthURL := h.opt.BaseURL + h.opt.Adapter.HealthPath()
	pctx, readySpan := tracing.StartPhaseSpan(ictx, h.opt.Tracer, "readiness")
	err = h.opt.Prober.AwaitReady(pctx, healthURL,
		probe.Policy{Interval: h.opt.PollInterval, Ceiling: cfg.Server.StartupTimeout},
		func(c context.Context) bool { return h.opt.Provider.IsAlive(c, env) },
	)
	tracing.EndSpan(readySpan, err)
	if err != nil {
		switch {
		case errors.Is(err, probe.ErrEnvironmentDied) && wd.Fired():
			it.classify(false, ReasonReadinessTimeout, "watchdog destroyed the environment: "+err.Error())
		case errors.Is(err, probe.ErrEnvironmentDied):
			it.classify(false, ReasonEnvironmentDied, err.Error())
		case errors.Is(err, probe.ErrReadinessTimeout):
			it.classify(false, ReasonReadinessTimeout, err.Error())
		default:
			it.classify(false, ReasonAborted, err.Error())
		}
		return it
	}
	log.Info("environment ready")

	// Driving. The outcome flags are combined at classification; driving
	// always proceeds to scanning.
	it.State = StateDriving
	dctx, driveSpan := tracing.StartPhaseSpan(ictx, h.opt.Tracer, "drive")
	outcome := h.driver.Drive(dctx, logFile, driver.Options{
		ChatURL:        h.opt.BaseURL + h.opt.Adapter.ChatPath(),
		Model:          cfg.Server.ModelPath,
		Prompt:         cfg.Test.Prompt,
		RequestCount:   cfg.Test.PromptsPerLoop,
		SuccessPattern: cfg.Test.SuccessPattern,
		DefaultParams:  driver.DefaultParams(),
	})
	tracing.EndSpan(driveSpan, outcome.FirstFailure,
		attribute.Int("soakfire.prompts_sent", outcome.Sent))

	// Scanning runs even when driving succeeded: a crash signature after a
	// valid response still fails the iteration.
	it.State = StateScanning
	_, scanSpan := tracing.StartPhaseSpan(ictx, h.opt.Tracer, "scan")
	match, scanErr := h.opt.Scanner.ScanFile(it.LogPath, cfg.ErrorPatterns)
	tracing.EndSpan(scanSpan, scanErr,
		attribute.Bool("soakfire.pattern_found", match.Found))
	if scanErr != nil {
		log.Warn("log scan failed", zap.Error(scanErr))
	}

	switch {
	case ictx.Err() != nil && !outcome.AllDelivered:
		it.classify(false, ReasonAborted, fmt.Sprint(outcome.FirstFailure))
	case !outcome.AllDelivered:
		it.classify(false, ReasonPromptConnectionError,
			fmt.Sprintf("prompt %d/%d: %v", outcome.Sent, cfg.Test.PromptsPerLoop, outcome.FirstFailure))
	case !outcome.AllMatched:
		it.classify(false, ReasonPatternMismatch,
			fmt.Sprintf("response did not contain %q", cfg.Test.SuccessPattern))
	case match.Found:
		it.classify(false, ReasonErrorPatternDetected, match.Pattern)
	default:
		it.classify(true, ReasonNone, "")
	}
	return it
}

// ensurePersistent returns the run's persistent environment, recreating it
// if a watchdog destroyed it in a previous iteration.
func (h *Harness) ensurePersistent(ctx context.Context, log *zap.Logger) (*environ.Handle, error) {
	if h.persistent != nil && h.opt.Provider.IsAlive(ctx, h.persistent) {
		return h.persistent, nil
	}
	name := "soakfire-" + strings.ToLower(h.opt.RunDir.RunID) + "-r" + strings.ToLower(artifact.NewRunID()[:6])
	log.Warn("persistent environment gone, recreating", zap.String("environment", name))
	handle, err := h.opt.Provider.CreatePersistent(ctx, h.spec, name)
	if err != nil {
		return nil, fmt.Errorf("recreate persistent environment: %w", err)
	}
	h.persistent = handle
	return handle, nil
}
