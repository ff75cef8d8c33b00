package bbnode

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/monitor"
	"github.com/burstbuffer/cdbb/internal/pfs"
	"github.com/burstbuffer/cdbb/internal/transport"
)

// coordinatorRank is fixed at 0 for the lifetime of a job.
const coordinatorRank transport.Rank = 0

// Node is one burst-buffer rank: a producer goroutine accepting ingest
// requests from writers into a LocalBB, and a consumer goroutine draining
// that buffer to PFS and reporting the lowered occupancy back to the
// coordinator after each drain.
type Node struct {
	self   transport.Rank
	fabric *transport.Fabric
	logger *slog.Logger

	buf    *LocalBB
	sysmon *monitor.SystemMonitor

	drainFile *os.File
	drainRoot string
	throttle  int64
}

// New builds a Node for self, sized per topo, draining into topo.DrainRoot
// at up to topo.DrainBytesPerSec (0 disables throttling).
func New(self transport.Rank, fabric *transport.Fabric, topo config.Topology, logger *slog.Logger) (*Node, error) {
	logger = logger.With("role", "bbnode", "rank", self)

	f, err := pfs.OpenAppend(topo.DrainRoot, self)
	if err != nil {
		return nil, err
	}

	return &Node{
		self:      self,
		fabric:    fabric,
		logger:    logger,
		buf:       NewLocalBB(topo.BBCapacity, topo.MaxQueue),
		sysmon:    monitor.NewSystemMonitor(logger, 15*time.Second, topo.DrainRoot),
		drainFile: f,
		drainRoot: topo.DrainRoot,
		throttle:  topo.DrainBytesPerSec,
	}, nil
}

// Run starts the producer and consumer loops and blocks until ctx is
// cancelled or either loop exits on a fatal error.
func (n *Node) Run(ctx context.Context) error {
	n.sysmon.Start()
	defer n.sysmon.Stop()
	defer n.drainFile.Close()

	var (
		wg      sync.WaitGroup
		firstErr error
		errOnce sync.Once
	)
	record := func(err error) {
		if err != nil {
			errOnce.Do(func() { firstErr = err })
		}
	}

	drainWriter := io.Writer(n.drainFile)
	if n.throttle > 0 {
		drainWriter = NewThrottledWriter(ctx, n.drainFile, n.throttle)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		record(n.produce(ctx))
	}()
	go func() {
		defer wg.Done()
		record(n.consume(ctx, drainWriter))
	}()

	<-ctx.Done()
	n.buf.Close()
	wg.Wait()

	if firstErr != nil && firstErr != context.Canceled {
		return firstErr
	}
	return nil
}

// produce implements the BB side of the ingest protocol: receive the
// announced size, then pin the follow-up data receive to that same source
// so two writers racing to this node can never have their size and data
// messages cross-matched, and enqueue. It does not report occupancy;
// consume is the sole reporter, so the coordinator's optimistic credit for
// chunks already in flight toward this node is never clobbered by the
// buffer's current, smaller, actually-landed size.
func (n *Node) produce(ctx context.Context) error {
	for {
		sizeEnv, err := n.fabric.RecvAny(ctx, n.self, transport.TagIngestSize)
		if err != nil {
			return err
		}
		size, err := transport.DecodeInt32(sizeEnv.Payload)
		if err != nil {
			n.logger.Warn("malformed ingest-size payload", "error", err, "writer", sizeEnv.Source)
			continue
		}

		dataEnv, err := n.fabric.Recv(ctx, n.self, transport.TagIngestData, sizeEnv.Source)
		if err != nil {
			return err
		}
		if int32(len(dataEnv.Payload)) != size {
			n.logger.Warn("ingest size mismatch", "writer", sizeEnv.Source, "declared", size, "received", len(dataEnv.Payload))
		}

		if err := n.buf.Enqueue(dataEnv.Payload); err != nil {
			n.logger.Error("enqueue failed", "error", err, "writer", sizeEnv.Source)
			continue
		}
	}
}

// consume drains the ring buffer to PFS in FIFO order, reporting occupancy
// after each chunk. It is the only goroutine that reports occupancy, which
// keeps the coordinator's view optimistic: a slot's credited occupancy only
// ever drops once data has actually left the buffer.
func (n *Node) consume(ctx context.Context, w io.Writer) error {
	for {
		_, err := n.buf.DrainOne(w)
		if err == ErrClosed {
			return nil
		}
		if err != nil {
			n.logger.Error("drain to PFS failed", "error", err)
			return err
		}
		n.reportOccupancy()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (n *Node) reportOccupancy() {
	occupancy := n.buf.Occupancy()
	n.fabric.SendAnnounced(n.self, coordinatorRank, transport.TagSenderKind, transport.EncodeInt32(int32(transport.SenderKindBBReport)))
	n.fabric.Send(n.self, coordinatorRank, transport.TagBBReport, transport.EncodeUint64(uint64(occupancy)))
}
