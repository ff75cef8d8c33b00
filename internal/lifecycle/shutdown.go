// Package lifecycle provides an optional coordinated-shutdown hook: every
// role loop can check a shared flag between iterations and, once every
// writer band has reached its target checkpoint count, synchronize on the
// fabric's barrier before exiting. Nothing in the core protocol depends on
// this; it exists so tests and demos can run a deterministic, finite job
// instead of the otherwise job-lifetime-unbounded default.
package lifecycle

import (
	"sync/atomic"

	"github.com/burstbuffer/cdbb/internal/transport"
)

// Controller coordinates an optional graceful shutdown across every rank.
type Controller struct {
	flag atomic.Bool
}

// NewController returns a Controller with shutdown not yet requested.
func NewController() *Controller { return &Controller{} }

// ShouldStop reports whether shutdown has been requested. No role loop
// polls it: writers stop on their own checkpoint count, and the
// coordinator and BB nodes stop when the job's context is cancelled.
func (c *Controller) ShouldStop() bool { return c.flag.Load() }

// Request marks shutdown as requested. Idempotent.
func (c *Controller) Request() { c.flag.Store(true) }

// Sync blocks until `participants` ranks have called Sync, the same
// rendezvous an MPI_Barrier gives a set of peer ranks. The writers are the
// participants: each one finishes its last checkpoint before joining, so
// none of them winds down while another is still mid-checkpoint.
func (c *Controller) Sync(fabric *transport.Fabric, participants int) {
	fabric.Barrier(participants)
}
