package mediator

// Subject is the user-supplied worker hosted in each forked child. Invoke
// runs method with args on the current process and returns its result or
// error — the mediator never inspects args/result itself, it only routes
// them through the IPC transport.
type Subject interface {
	Invoke(method string, args []any) (any, error)
}

// Initializer is an optional Subject capability: if implemented, Init runs
// once in a freshly forked child before it enters its call loop.
type Initializer interface {
	Init() error
}

// SubjectFunc adapts a plain function into a single-method Subject, for
// worker kinds that don't need more than one callable.
type SubjectFunc func(args []any) (any, error)

func (f SubjectFunc) Invoke(_ string, args []any) (any, error) {
	return f(args)
}
