// Package coordinator implements the rank-0 placement service: it answers
// writer admission probes and ingests BB occupancy reports, running a
// local-first / least-loaded / PFS-fallback placement algorithm.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/monitor"
	"github.com/burstbuffer/cdbb/internal/transport"
	"github.com/robfig/cron/v3"
)

// Coordinator is the rank-0 role: a single request-handling loop plus a
// background snapshot job.
type Coordinator struct {
	fabric *transport.Fabric
	topo   config.Topology
	logger *slog.Logger

	occupancy *OccupancyVector
	sysmon    *monitor.SystemMonitor
	cron      *cron.Cron
}

// New builds a Coordinator bound to rank 0 of fabric.
func New(fabric *transport.Fabric, topo config.Topology, logger *slog.Logger) *Coordinator {
	logger = logger.With("role", "coordinator")
	return &Coordinator{
		fabric:    fabric,
		topo:      topo,
		logger:    logger,
		occupancy: NewOccupancyVector(topo),
		sysmon:    monitor.NewSystemMonitor(logger, 15*time.Second, "/"),
	}
}

// snapshotSchedule runs once a minute, independent of the protocol's own
// checkpoint period, purely to give operators a steady heartbeat of the
// occupancy vector in the logs.
const snapshotSchedule = "@every 1m"

// Run starts the background snapshot job and blocks serving admission
// probes and BB occupancy reports until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.sysmon.Start()
	defer c.sysmon.Stop()

	c.cron = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(c.logger.Handler(), slog.LevelDebug))))
	if _, err := c.cron.AddFunc(snapshotSchedule, c.logSnapshot); err != nil {
		return err
	}
	c.cron.Start()
	defer c.cron.Stop()

	const self transport.Rank = 0
	for {
		env, err := c.fabric.RecvAny(ctx, self, transport.TagSenderKind)
		if err != nil {
			return ctx.Err()
		}
		kindVal, err := transport.DecodeInt32(env.Payload)
		if err != nil {
			c.logger.Warn("malformed sender-kind payload", "error", err, "source", env.Source)
			continue
		}

		switch transport.SenderKind(kindVal) {
		case transport.SenderKindBBReport:
			c.handleBBReport(ctx, env.Source)
		case transport.SenderKindWriterProbe:
			c.handleWriterProbe(ctx, env.Source)
		default:
			c.logger.Warn("unknown sender kind", "kind", kindVal, "source", env.Source)
		}
	}
}

func (c *Coordinator) handleBBReport(ctx context.Context, bbRank transport.Rank) {
	env, err := c.fabric.Recv(ctx, 0, transport.TagBBReport, bbRank)
	if err != nil {
		return
	}
	occupancy, err := transport.DecodeUint64(env.Payload)
	if err != nil {
		c.logger.Warn("malformed BB report payload", "error", err, "source", bbRank)
		return
	}
	c.occupancy.Report(bbRank, occupancy)
	c.logger.Debug("BB occupancy updated", "bb_rank", bbRank, "occupancy", occupancy)
}

func (c *Coordinator) handleWriterProbe(ctx context.Context, writerRank transport.Rank) {
	env, err := c.fabric.Recv(ctx, 0, transport.TagProbeSize, writerRank)
	if err != nil {
		return
	}
	size, err := transport.DecodeInt32(env.Payload)
	if err != nil {
		c.logger.Warn("malformed probe-size payload", "error", err, "source", writerRank)
		return
	}

	decision := c.occupancy.Decide(writerRank, int64(size))

	accepted := int32(0)
	if decision.Accepted {
		accepted = 1
	}
	c.fabric.Send(0, writerRank, transport.TagDecisionAccepted, transport.EncodeInt32(accepted))
	c.fabric.Send(0, writerRank, transport.TagDecisionTarget, transport.EncodeInt32(int32(decision.Target)))

	if decision.Accepted {
		c.logger.Debug("admitted writer", "writer", writerRank, "size", size, "target", decision.Target)
	} else {
		c.logger.Debug("all BBs full, writer falls back to PFS", "writer", writerRank, "size", size)
	}
}

func (c *Coordinator) logSnapshot() {
	c.logger.Info("occupancy snapshot", "slots", c.occupancy.Snapshot(), "system", c.sysmon.Stats())
}
