// Package pool implements the Process Pool (WorkerPool) and the per-worker
// Client Pool (ClientPool) described in the data model: a WorkerPool owns N
// Workers and N ClientPools one-to-one for a backend; a ClientPool bounds
// how many concurrent FastCGI connections one worker serves, queuing
// excess acquirers in FIFO order behind a deadline.
package pool
