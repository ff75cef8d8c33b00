// Package writer implements the checkpointing rank: it periodically
// attempts to place a fixed-size payload through the coordinator's
// admission protocol, ingesting into whichever BB node it's granted, and
// falls back to writing the PFS directly when every BB is full.
package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/lifecycle"
	"github.com/burstbuffer/cdbb/internal/pfs"
	"github.com/burstbuffer/cdbb/internal/transport"
)

// Stats accumulates one writer's lifetime checkpoint activity.
type Stats struct {
	CheckpointsRun   int
	BytesViaBB       int64
	BytesViaPFS      int64
	LastCheckpointAt time.Time
}

// checkpointOutcome labels how a single checkpoint was placed, for the
// elapsed-time record.
type checkpointOutcome string

const (
	outcomeBB  checkpointOutcome = "bb"
	outcomePFS checkpointOutcome = "pfs"
)

// Writer is one checkpointing rank within a single application band.
type Writer struct {
	self    transport.Rank
	fabric  *transport.Fabric
	topo    config.Topology
	band    config.Band
	payload []byte
	logger  *slog.Logger

	shutdown     *lifecycle.Controller
	participants int
	cancel       context.CancelFunc

	stats Stats
}

// WithShutdown enables the optional shutdown barrier: once this writer has
// run topo.MaxCheckpoints checkpoints, it rendezvous with the other
// `participants` writers via ctrl, then calls cancel to unwind the
// coordinator and every BB node through ordinary context cancellation.
// Neither needs to join the barrier itself, since they already shut down
// cleanly on ctx.Done.
func (w *Writer) WithShutdown(ctrl *lifecycle.Controller, participants int, cancel context.CancelFunc) *Writer {
	w.shutdown = ctrl
	w.participants = participants
	w.cancel = cancel
	return w
}

// New builds a Writer for self within band, with a checkpoint payload
// built from sourceData: the first min(band.PayloadSize, len(sourceData))
// bytes, repeated to fill out any shortfall, so every checkpoint is
// exactly band.PayloadSize bytes regardless of how the source data file
// compares to the requested size.
func New(self transport.Rank, fabric *transport.Fabric, topo config.Topology, band config.Band, sourceData []byte, logger *slog.Logger) *Writer {
	return &Writer{
		self:    self,
		fabric:  fabric,
		topo:    topo,
		band:    band,
		payload: buildPayload(sourceData, band.PayloadSize),
		logger:  logger.With("role", "writer", "rank", self, "band", band.Index),
	}
}

func buildPayload(sourceData []byte, size int64) []byte {
	if size <= 0 || len(sourceData) == 0 {
		return make([]byte, maxInt64(size, 0))
	}
	out := make([]byte, size)
	for filled := int64(0); filled < size; {
		n := copy(out[filled:], sourceData)
		filled += int64(n)
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Run waits out the band's initial stagger, then issues checkpoints every
// band.Period until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	select {
	case <-time.After(w.band.InitialDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	w.logger.Info("writer starting checkpoint loop", "initial_delay", w.band.InitialDelay, "period", w.band.Period, "payload_bytes", len(w.payload))

	for {
		if err := w.checkpoint(ctx); err != nil {
			return err
		}

		if w.shutdown != nil && w.topo.MaxCheckpoints > 0 && int64(w.stats.CheckpointsRun) >= w.topo.MaxCheckpoints {
			w.logger.Info("reached checkpoint limit, joining shutdown barrier", "checkpoints", w.stats.CheckpointsRun)
			w.shutdown.Request()
			w.shutdown.Sync(w.fabric, w.participants)
			if w.cancel != nil {
				w.cancel()
			}
			return nil
		}

		select {
		case <-time.After(w.band.Period):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// checkpoint runs the admission protocol once: probe the coordinator, and
// depending on its decision either ingest into the granted BB or append
// straight to PFS. It times the whole attempt and emits one elapsed-time
// record per checkpoint, win or lose.
func (w *Writer) checkpoint(ctx context.Context) error {
	const coordinatorRank transport.Rank = 0

	index := w.stats.CheckpointsRun
	start := time.Now()

	outcome, err := w.runCheckpoint(ctx, coordinatorRank)

	end := time.Now()
	status := "ok"
	if err != nil {
		status = "failed"
	}
	w.logger.Info("checkpoint elapsed",
		"writer_rank", w.self,
		"checkpoint_index", index,
		"outcome", outcome,
		"status", status,
		"start", start,
		"end", end,
		"elapsed", end.Sub(start),
	)

	if err != nil {
		return err
	}

	w.stats.CheckpointsRun++
	w.stats.LastCheckpointAt = end
	return nil
}

// runCheckpoint performs the actual admission protocol exchange and
// placement, returning which path the checkpoint took.
func (w *Writer) runCheckpoint(ctx context.Context, coordinatorRank transport.Rank) (checkpointOutcome, error) {
	w.fabric.SendAnnounced(w.self, coordinatorRank, transport.TagSenderKind, transport.EncodeInt32(int32(transport.SenderKindWriterProbe)))
	w.fabric.Send(w.self, coordinatorRank, transport.TagProbeSize, transport.EncodeInt32(int32(len(w.payload))))

	acceptedEnv, err := w.fabric.Recv(ctx, w.self, transport.TagDecisionAccepted, coordinatorRank)
	if err != nil {
		return "", err
	}
	accepted, err := transport.DecodeInt32(acceptedEnv.Payload)
	if err != nil {
		return "", err
	}

	targetEnv, err := w.fabric.Recv(ctx, w.self, transport.TagDecisionTarget, coordinatorRank)
	if err != nil {
		return "", err
	}
	targetVal, err := transport.DecodeInt32(targetEnv.Payload)
	if err != nil {
		return "", err
	}
	target := transport.Rank(targetVal)

	if accepted != 0 {
		w.fabric.SendAnnounced(w.self, target, transport.TagIngestSize, transport.EncodeInt32(int32(len(w.payload))))
		w.fabric.Send(w.self, target, transport.TagIngestData, w.payload)
		w.stats.BytesViaBB += int64(len(w.payload))
		return outcomeBB, nil
	}

	if err := w.writeDirectToPFS(); err != nil {
		return outcomePFS, err
	}
	w.stats.BytesViaPFS += int64(len(w.payload))
	return outcomePFS, nil
}

func (w *Writer) writeDirectToPFS() error {
	f, err := pfs.OpenAppend(w.topo.DrainRoot, w.self)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(w.payload)
	return err
}

// Stats returns a copy of the writer's lifetime checkpoint statistics.
func (w *Writer) Stats() Stats { return w.stats }
