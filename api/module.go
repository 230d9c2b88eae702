package api

// Module is the capability set the (out of scope) module/plugin loader
// exposes per loaded module, per spec.md §4.3/§6. The worker calls both
// hooks on every module; a module with nothing to do implements them as
// no-ops.
type Module interface {
	// Name identifies the module for init-failure logging.
	Name() string
	// OnThreadInit runs once, on the worker's own OS thread, before the
	// worker enters its event loop. A non-nil error aborts that worker's
	// startup.
	OnThreadInit() error
	// OnThreadFinish runs once, on the worker's own OS thread, after the
	// worker's loop has returned.
	OnThreadFinish()
}

// ModuleIterator yields the process's loaded modules in a stable order,
// so that on init failure the already-initialized prefix can be finished
// in reverse (spec.md §4.3).
type ModuleIterator interface {
	Modules() []Module
}
