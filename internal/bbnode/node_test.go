package bbnode

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/logging"
	"github.com/burstbuffer/cdbb/internal/pfs"
	"github.com/burstbuffer/cdbb/internal/transport"
)

func TestNode_IngestAndReportOccupancy(t *testing.T) {
	dir := t.TempDir()
	topo := config.DefaultTopology()
	topo.DrainRoot = dir
	topo.BBCapacity = 1024

	fabric := transport.NewFabric(20)
	logger, closer := logging.NewLogger("error", "text", "")
	defer closer.Close()

	const bbRank transport.Rank = 7
	node, err := New(bbRank, fabric, topo, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	const writer transport.Rank = 3
	payload := []byte("checkpoint-payload")
	fabric.SendAnnounced(writer, bbRank, transport.TagIngestSize, transport.EncodeInt32(int32(len(payload))))
	fabric.Send(writer, bbRank, transport.TagIngestData, payload)

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reportCancel()
	kindEnv, err := fabric.RecvAny(reportCtx, 0, transport.TagSenderKind)
	if err != nil {
		t.Fatalf("coordinator never received sender-kind: %v", err)
	}
	if kindEnv.Source != bbRank {
		t.Fatalf("report source = %d, want %d", kindEnv.Source, bbRank)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("node.Run never returned after cancel")
	}

	data, err := os.ReadFile(pfs.DrainPath(dir, bbRank))
	if err != nil {
		t.Fatalf("reading drain file: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("drained data = %q, want %q", data, payload)
	}
}
