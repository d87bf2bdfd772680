// Package daemonkit is a thin facade over the internal lifecycle,
// mediator, and scheduler packages: a stable public surface for embedding,
// mirroring loykin-provisr's own top-level provisr.go (a Manager facade
// re-exporting internal/manager, internal/metrics, internal/server behind
// a small set of aliases and constructor functions) generalized from "a
// facade over one named managed-process manager" to "a facade over one
// supervised daemon, its registered worker mediators, and its fire-and-
// forget tasks".
//
// A daemon-author's main() registers worker Subjects and task callables,
// optionally sets an Execute hook, then calls Run. Run itself dispatches
// three ways depending on how the current process was launched: as the
// parent daemon (the common case), as one forked worker child (re-exec
// carrying a DAEMONKIT_WORKER_ALIAS marker), or as one fire-and-forget task
// child (re-exec carrying a DAEMONKIT_TASK_NAME marker) — see forkOne in
// internal/mediator and RunTask below for where those markers are set.
package daemonkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/daemonkit/internal/audit"
	auditfactory "github.com/loykin/daemonkit/internal/audit/factory"
	"github.com/loykin/daemonkit/internal/config"
	"github.com/loykin/daemonkit/internal/env"
	"github.com/loykin/daemonkit/internal/eventbus"
	"github.com/loykin/daemonkit/internal/ipc"
	"github.com/loykin/daemonkit/internal/logging"
	"github.com/loykin/daemonkit/internal/mediator"
	"github.com/loykin/daemonkit/internal/proctable"
	"github.com/loykin/daemonkit/internal/promise"
	"github.com/loykin/daemonkit/internal/scheduler"
	"github.com/loykin/daemonkit/internal/statsexport"
	"github.com/loykin/daemonkit/internal/task"
	"github.com/loykin/daemonkit/internal/tracing"
	"github.com/loykin/daemonkit/pkg/plugins/httpapi"
)

// Re-exported types for external consumers, kept as aliases so passing
// them through this facade is zero-cost.
type (
	Config         = config.FileConfig
	Subject        = mediator.Subject
	SubjectFunc    = mediator.SubjectFunc
	Initializer    = mediator.Initializer
	Promise        = promise.Promise
	ExecuteFunc    = scheduler.ExecuteFunc
	MediatorConfig = config.MediatorConfig
	StatsSnapshot  = mediator.StatsSnapshot
)

// TaskFunc is a fire-and-forget callable registered under a name, run in a
// forked child with no return channel.
type TaskFunc func(args []string) error

const (
	workerAliasEnv = "DAEMONKIT_WORKER_ALIAS"
	taskNameEnv    = "DAEMONKIT_TASK_NAME"
	taskArgsEnv    = "DAEMONKIT_TASK_ARGS"
)

// Daemon is the embeddable facade: one process's registered workers,
// tasks, and the scheduler that drives them.
type Daemon struct {
	cfg *config.FileConfig

	workers map[string]Subject
	tasks   map[string]TaskFunc

	execute ExecuteFunc

	logger    *slog.Logger
	logTarget io.Closer
	tracer    *tracing.Provider
	audit     audit.Sink
	statsSrv  *http.Server

	sched *scheduler.Daemon
	env   *env.Env
}

// New constructs a Daemon from cfg. Nothing is started until Run is
// called; RegisterWorker/RegisterTask/SetExecute must all happen before
// Run, since a re-exec'd worker or task child re-runs the same
// registration code in its own process before Run notices its role.
func New(cfg *config.FileConfig) *Daemon {
	return &Daemon{
		cfg:     cfg,
		workers: make(map[string]Subject),
		tasks:   make(map[string]TaskFunc),
	}
}

// RegisterWorker attaches subject as the implementation behind alias. alias
// must match a `[[mediator]]` entry's alias in the loaded config.
func (d *Daemon) RegisterWorker(alias string, subject Subject) {
	d.workers[alias] = subject
}

// RegisterTask attaches fn as the implementation behind name, callable via
// RunTask.
func (d *Daemon) RegisterTask(name string, fn TaskFunc) {
	d.tasks[name] = fn
}

// SetExecute installs the daemon-author's per-tick callback.
func (d *Daemon) SetExecute(fn ExecuteFunc) {
	d.execute = fn
}

// Mediator returns the running Mediator for alias, once Run has reached
// the parent's main loop — for calling from within the Execute hook.
func (d *Daemon) Mediator(alias string) (*mediator.Mediator, bool) {
	if d.sched == nil {
		return nil, false
	}
	m, ok := d.sched.Mediators()[alias]
	return m, ok
}

// Call issues method(args) against alias's mediator and returns its
// promise, wrapped in an OpenTelemetry span (when tracing is enabled) that
// closes when the promise settles.
func (d *Daemon) Call(alias, method string, args []any) (*Promise, error) {
	m, ok := d.Mediator(alias)
	if !ok {
		return nil, fmt.Errorf("daemonkit: no mediator registered for alias %q", alias)
	}
	p, err := m.Call(method, args)
	if err != nil || d.tracer == nil {
		return p, err
	}
	_, span := d.tracer.StartCall(context.Background(), alias, method, 0)
	p.Then(
		func(v any) (any, error) { tracing.EndCall(span, nil); return v, nil },
		func(callErr error) (any, error) { tracing.EndCall(span, callErr); return nil, callErr },
	)
	return p, nil
}

// RunTask forks name (previously registered via RegisterTask) with args, by
// re-executing the current binary with the task marker env vars set. It
// returns once the child is registered in the process table; it does not
// wait for the task to finish.
func (d *Daemon) RunTask(name string, args []string) error {
	if _, ok := d.tasks[name]; !ok {
		return fmt.Errorf("daemonkit: no task registered for name %q", name)
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonkit: resolve executable: %w", err)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("daemonkit: marshal task args: %w", err)
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), taskNameEnv+"="+name, taskArgsEnv+"="+string(argsJSON))
	if stdout, stderr := d.cfg.Log.ToChildLogConfig().Writers(name); stdout != nil || stderr != nil {
		cmd.Stdout, cmd.Stderr = stdout, stderr
	}
	return task.Run(d.sched.Table, cmd, d.env, 60*time.Second)
}

// Run dispatches to the appropriate role for the current process (worker
// child, task child, or parent daemon) based on the env markers set by
// forkOne/RunTask, and blocks until that role's work is done.
func (d *Daemon) Run(ctx context.Context) error {
	if alias := os.Getenv(workerAliasEnv); alias != "" {
		return d.runWorkerChild(alias)
	}
	if name := os.Getenv(taskNameEnv); name != "" {
		return d.runTaskChild(name)
	}
	return d.runParent(ctx)
}

func (d *Daemon) runWorkerChild(alias string) error {
	subject, ok := d.workers[alias]
	if !ok {
		return fmt.Errorf("daemonkit: worker child launched for unregistered alias %q", alias)
	}
	mcfg, ferr := d.mediatorConfigFor(alias)
	if ferr != nil {
		return ferr
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cfg, err := mcfg.ToConfig(d.cfg.Daemon.ToOptions().LoopInterval)
	if err != nil {
		return err
	}
	return mediator.RunChild(mediator.ChildConfig{
		DaemonPath: exe,
		Alias:      alias,
		Subject:    subject,
		Config:     cfg,
		Options:    ipc.Options{},
	})
}

func (d *Daemon) runTaskChild(name string) error {
	fn, ok := d.tasks[name]
	if !ok {
		return fmt.Errorf("daemonkit: task child launched for unregistered task %q", name)
	}
	var args []string
	if raw := os.Getenv(taskArgsEnv); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Errorf("daemonkit: unmarshal task args: %w", err)
		}
	}
	return fn(args)
}

func (d *Daemon) mediatorConfigFor(alias string) (config.MediatorConfig, error) {
	for _, m := range d.cfg.Mediators {
		if m.Alias == alias {
			return m, nil
		}
	}
	return config.MediatorConfig{}, fmt.Errorf("daemonkit: no mediator config for alias %q", alias)
}

func (d *Daemon) runParent(ctx context.Context) error {
	globalEnv, err := d.cfg.GlobalEnv()
	if err != nil {
		return err
	}
	d.env = globalEnv

	interactive := !d.cfg.Daemon.Daemonize
	var out io.Writer = os.Stdout
	if d.cfg.Log != nil && d.cfg.Log.Stdout != "" {
		target, err := logging.Open(d.cfg.Log.Stdout)
		if err != nil {
			return fmt.Errorf("daemonkit: open log target: %w", err)
		}
		d.logTarget = target
		out = target
	}
	d.logger = logging.New(out, slog.LevelInfo, interactive)
	if d.logTarget != nil {
		defer func() { _ = d.logTarget.Close() }()
	}

	if d.cfg.Tracing.Enabled {
		provider, err := tracing.New(tracing.Config{ServiceName: d.cfg.Tracing.ServiceName, PrettyPrint: interactive})
		if err != nil {
			return fmt.Errorf("daemonkit: init tracing: %w", err)
		}
		d.tracer = provider
		defer func() { _ = d.tracer.Shutdown(context.Background()) }()
	}

	sink, err := auditfactory.NewSinkFromDSN(d.cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("daemonkit: init audit sink: %w", err)
	}
	d.audit = sink
	defer func() { _ = d.audit.Close() }()

	if d.cfg.Stats.EnablePrometheus {
		if err := statsexport.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("daemonkit: register prometheus collectors: %w", err)
		}
	}

	bus := eventbus.New()
	logging.Subscribe(bus, d.logger)
	for _, name := range []eventbus.Name{
		eventbus.Init, eventbus.Idle, eventbus.Fork, eventbus.ParentFork, eventbus.PIDChange,
		eventbus.PreExecute, eventbus.PostExecute, eventbus.AutoRestart, eventbus.Signal,
		eventbus.Shutdown, eventbus.Error, eventbus.Log, eventbus.Stats, eventbus.GenerateGUID, eventbus.Reaped,
	} {
		name := name
		bus.Subscribe(name, -200, func(any) bool { statsexport.RecordDispatch(name); return false })
	}
	table := proctable.New()
	d.sched = scheduler.New(bus, table, d.cfg.Daemon.ToOptions())
	d.sched.Execute = d.execute

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	for _, mc := range d.cfg.Mediators {
		subject, ok := d.workers[mc.Alias]
		if !ok {
			return fmt.Errorf("daemonkit: mediator %q configured but no worker registered", mc.Alias)
		}
		mCfg, err := mc.ToConfig(d.cfg.Daemon.ToOptions().LoopInterval)
		if err != nil {
			return err
		}
		mediatorEnv, err := d.cfg.MediatorEnv(mc)
		if err != nil {
			return err
		}
		alias := mc.Alias
		m, err := mediator.NewParent(bus, table, exe, alias, subject, mCfg, ipc.Options{})
		if err != nil {
			return fmt.Errorf("daemonkit: start mediator %q: %w", alias, err)
		}
		m.AuditSink = d.audit
		m.Env = mediatorEnv
		m.NewChildCmd = func() *exec.Cmd {
			cmd := exec.Command(exe)
			cmd.Env = append(os.Environ(), workerAliasEnv+"="+alias)
			return cmd
		}
		m.OnFatal = func(fatalErr error) {
			bus.Publish(eventbus.Log, &logging.LogEvent{
				Level: slog.LevelError,
				Msg:   "mediator fatal",
				Attrs: []any{"alias", alias, "err", fatalErr},
			})
			bus.Publish(eventbus.Error, fatalErr)
		}
		m.Start()
		d.sched.RegisterMediator(m)
	}

	if d.cfg.Stats.Addr != "" {
		d.statsSrv = httpapi.NewServer(d.cfg.Stats.Addr, d.cfg.Stats.BasePath, d.sched, d.cfg.Stats.EnablePrometheus)
		defer func() { _ = d.statsSrv.Close() }()
	}

	return d.sched.Run(ctx)
}
