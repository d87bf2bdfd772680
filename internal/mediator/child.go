package mediator

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loykin/daemonkit/internal/call"
	"github.com/loykin/daemonkit/internal/ipc"
)

// storeFD and queueFD are the fixed descriptor numbers a forked child finds
// its inherited segments at: Transport.Files always appends store then
// queue to exec.Cmd.ExtraFiles, which os/exec places at fd 3 and 4 (fd 0-2
// are stdin/stdout/stderr).
const (
	storeFD = 3
	queueFD = 4
)

// ChildConfig carries what a forked worker child needs to attach to its
// parent's transport and start serving calls. The daemonkit facade builds
// one of these when the DAEMONKIT_WORKER_ALIAS environment variable marks
// the process as a worker, and passes it to RunChild.
type ChildConfig struct {
	DaemonPath string
	Alias      string
	Subject    Subject
	Config     Config
	Options    ipc.Options
}

// recyclePollInterval bounds how long a single BlockGet wait runs before
// RunChild re-checks its own jittered MaxRuntime — an idle child with no
// inbound work still has to notice it has aged out, even with nothing
// arriving on the queue to wake it.
const recyclePollInterval = 10 * time.Millisecond

// RunChild attaches to the inherited transport, runs the subject's
// Initializer if present, and serves CALL headers until either its context
// is cancelled (SIGTERM/SIGINT) or, with AutoRestart set, it has exceeded
// its jittered MaxRuntime or served its jittered share of MaxCalls — at
// which point it exits zero and relies on the parent's next fork pass to
// replace it. It never exits non-zero on a worker-method error: that error
// travels back through ReturnedWithError, not the process exit code.
func RunChild(cfg ChildConfig) error {
	transport, err := ipc.NewChild(cfg.DaemonPath, cfg.Alias, storeFD, queueFD, cfg.Options)
	if err != nil {
		return err
	}
	defer transport.Close()

	if init, ok := cfg.Subject.(Initializer); ok {
		if err := init.Init(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	maxCalls, maxRuntime := jitteredLimits(cfg.Config)
	start := time.Now()
	served := 0
	cancelled := make(map[int64]struct{})
	ppid := os.Getppid()

	for {
		// MaxRuntime is a hard cap checked every wait cycle, whether or not
		// calls are arriving; MaxCalls, below, only fires once MinRuntime
		// has elapsed, so recycling can't thrash a child that just started.
		if cfg.Config.AutoRestart && cfg.Config.MaxRuntime > 0 && time.Since(start) >= maxRuntime {
			return nil
		}

		waitCtx, cancelWait := context.WithTimeout(ctx, recyclePollInterval)
		wire, err := transport.BlockGet(waitCtx, call.HeaderCall)
		cancelWait()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}

		for {
			w, found, err := transport.TryGet(call.HeaderCancel)
			if err != nil || !found {
				break
			}
			cancelled[w.ID] = struct{}{}
		}
		if _, dead := cancelled[wire.ID]; dead {
			delete(cancelled, wire.ID)
			continue
		}

		c := call.NewFromWire(wire)
		if err := c.Running(os.Getpid()); err == nil {
			_ = transport.Put(c)
		}

		result, callErr := cfg.Subject.Invoke(wire.Method, wire.Args)
		if callErr != nil {
			_ = c.ReturnedWithError(callErr)
		} else {
			_ = c.Returned(result)
		}
		if err := transport.Put(c); err != nil {
			// The parent's PostExecute reconciles this against the reaped
			// pid once this process exits; nothing more to do here.
			return err
		}
		served++

		if cfg.Config.AllowWakeup {
			_ = unix.Kill(ppid, unix.SIGALRM)
		}

		if cfg.Config.AutoRestart && time.Since(start) >= cfg.Config.MinRuntime && served >= maxCalls {
			return nil
		}
	}
}
