// Package eventbus implements the daemon's single-threaded publish/subscribe
// registry. Event names are stable strings shared between the scheduler, the
// mediator, and external plugins.
package eventbus

// Name identifies a dispatchable event. Names are part of the external
// contract for user plugins; the constants below are the full list.
type Name string

const (
	Init         Name = "init"
	Idle         Name = "idle"
	Fork         Name = "fork"
	ParentFork   Name = "parent_fork"
	PIDChange    Name = "pid_change"
	PreExecute   Name = "pre_execute"
	PostExecute  Name = "post_execute"
	AutoRestart  Name = "auto_restart"
	Signal       Name = "signal"
	Shutdown     Name = "shutdown"
	Error        Name = "error"
	Log          Name = "log"
	Stats        Name = "stats"
	GenerateGUID Name = "generate_guid"
	Reaped       Name = "reaped"
)

// Event is a minimal named event value. The bus passes whatever value is
// published to subscribers unchanged and never reads or writes it.
//
// This type purposefully does not carry a "stopped" bool on a long-lived
// shared instance: Publish tracks propagation in a local variable that
// lives only for the current call. That keeps a
// dispatch's stop/resume semantics out of the event value, so the same
// payload type can be reused across dispatches without callers worrying
// about stale propagation state leaking from a previous tick.
type Event struct {
	Name Name
}
