package writer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/logging"
	"github.com/burstbuffer/cdbb/internal/transport"
)

func TestBuildPayload_ExactFitAndRepeat(t *testing.T) {
	if got := buildPayload([]byte("abc"), 3); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("exact fit: got %q", got)
	}
	if got := buildPayload([]byte("ab"), 5); !bytes.Equal(got, []byte("ababa")) {
		t.Fatalf("repeat-to-fill: got %q, want %q", got, "ababa")
	}
	if got := buildPayload([]byte("abcdef"), 3); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("truncate: got %q", got)
	}
}

func TestWriter_CheckpointAcceptedRoutesToBB(t *testing.T) {
	fabric := transport.NewFabric(10)
	logger, closer := logging.NewLogger("error", "text", "")
	defer closer.Close()

	band := config.Band{Index: 1, RankLo: 1, RankHi: 6, PayloadSize: 16}
	const writerRank transport.Rank = 3
	w := New(writerRank, fabric, config.DefaultTopology(), band, []byte("0123456789abcdef"), logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.checkpoint(ctx) }()

	// Act as the coordinator: receive the probe, grant rank 7.
	kindEnv, err := fabric.RecvAny(ctx, 0, transport.TagSenderKind)
	if err != nil {
		t.Fatalf("RecvAny sender-kind: %v", err)
	}
	sizeEnv, err := fabric.Recv(ctx, 0, transport.TagProbeSize, kindEnv.Source)
	if err != nil {
		t.Fatalf("Recv probe size: %v", err)
	}
	size, _ := transport.DecodeInt32(sizeEnv.Payload)
	if size != 16 {
		t.Fatalf("probed size = %d, want 16", size)
	}
	fabric.Send(0, writerRank, transport.TagDecisionAccepted, transport.EncodeInt32(1))
	fabric.Send(0, writerRank, transport.TagDecisionTarget, transport.EncodeInt32(7))

	// Act as the granted BB: receive the ingest.
	ingestKind, err := fabric.RecvAny(ctx, 7, transport.TagIngestSize)
	if err != nil {
		t.Fatalf("RecvAny ingest-size: %v", err)
	}
	dataEnv, err := fabric.Recv(ctx, 7, transport.TagIngestData, ingestKind.Source)
	if err != nil {
		t.Fatalf("Recv ingest-data: %v", err)
	}
	if string(dataEnv.Payload) != "0123456789abcdef" {
		t.Fatalf("ingested payload = %q", dataEnv.Payload)
	}

	if err := <-done; err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if got := w.Stats().BytesViaBB; got != 16 {
		t.Fatalf("BytesViaBB = %d, want 16", got)
	}
}

func TestWriter_CheckpointRejectedFallsBackToPFS(t *testing.T) {
	fabric := transport.NewFabric(10)
	logger, closer := logging.NewLogger("error", "text", "")
	defer closer.Close()

	dir := t.TempDir()
	topo := config.DefaultTopology()
	topo.DrainRoot = dir

	band := config.Band{Index: 1, RankLo: 1, RankHi: 6, PayloadSize: 8}
	const writerRank transport.Rank = 3
	w := New(writerRank, fabric, topo, band, []byte("abcdefgh"), logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.checkpoint(ctx) }()

	kindEnv, err := fabric.RecvAny(ctx, 0, transport.TagSenderKind)
	if err != nil {
		t.Fatalf("RecvAny sender-kind: %v", err)
	}
	if _, err := fabric.Recv(ctx, 0, transport.TagProbeSize, kindEnv.Source); err != nil {
		t.Fatalf("Recv probe size: %v", err)
	}
	fabric.Send(0, writerRank, transport.TagDecisionAccepted, transport.EncodeInt32(0))
	fabric.Send(0, writerRank, transport.TagDecisionTarget, transport.EncodeInt32(666))

	if err := <-done; err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if got := w.Stats().BytesViaPFS; got != 8 {
		t.Fatalf("BytesViaPFS = %d, want 8", got)
	}
}
