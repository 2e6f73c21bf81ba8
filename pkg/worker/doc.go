// Package worker supervises a single FastCGI backend process: it binds a
// fresh UNIX socket, spawns the child with the socket handed off as its
// stdin, and polls the socket until the child accepts connections.
//
// A Worker owns exactly one child process for its lifetime. Respawning a
// worker (done by pkg/pool's watchdog) always allocates a new socket path
// rather than rebinding the old one, so in-flight client connections to a
// dead process can never be silently handed to its replacement.
package worker
