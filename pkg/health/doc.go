// Package health provides the readiness-check primitives used while a
// FastCGI worker is starting: a Checker interface, a UnixSocketChecker
// implementation that dials a worker's listening socket, and a Status
// type that turns a stream of Results into a consecutive-failure-based
// healthy/unhealthy verdict.
//
// The worker package is the only caller: it polls a freshly spawned worker's
// socket until it accepts connections (or a startup deadline expires)
// before handing the worker to its client pool.
package health
