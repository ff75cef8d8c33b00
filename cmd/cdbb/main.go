// Command cdbb runs one CDBB job: it takes on the coordinator, BB node, or
// writer role for every rank in the configured topology, simulated as one
// goroutine per rank inside a single process, communicating over an
// in-process stand-in for the MPI fabric the system was designed around.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/burstbuffer/cdbb/internal/bbnode"
	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/coordinator"
	"github.com/burstbuffer/cdbb/internal/lifecycle"
	"github.com/burstbuffer/cdbb/internal/logging"
	"github.com/burstbuffer/cdbb/internal/role"
	"github.com/burstbuffer/cdbb/internal/transport"
	"github.com/burstbuffer/cdbb/internal/writer"
	"golang.org/x/sync/errgroup"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: cdbb [flags] <size1> <size2> <size3> <size4> <size5>\n")
	fmt.Fprintf(os.Stderr, "  the 5 positional arguments are the per-application checkpoint payload size in bytes, one per band\n")
	flag.PrintDefaults()
}

func main() {
	topologyPath := flag.String("topology", "", "optional YAML topology override")
	sourceDataPath := flag.String("source-data", "", "path to the checkpoint payload source file (overrides topology default)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json, text")
	logFile := flag.String("log-file", "", "optional log file path, in addition to stdout")
	flag.Usage = usage
	flag.Parse()

	logger, logCloser := logging.NewLogger(*logLevel, *logFormat, *logFile)
	defer logCloser.Close()

	if flag.NArg() != config.NumApplications {
		usage()
		os.Exit(1)
	}

	var sizes [config.NumApplications]int64
	for i, arg := range flag.Args() {
		size, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || size < 0 {
			fmt.Fprintf(os.Stderr, "invalid payload size %q: must be a non-negative integer\n", arg)
			os.Exit(1)
		}
		sizes[i] = size
	}

	topo, err := config.LoadOverride(*topologyPath, config.DefaultTopology())
	if err != nil {
		logger.Error("loading topology", "error", err)
		os.Exit(1)
	}
	if *sourceDataPath != "" {
		topo.SourceData = *sourceDataPath
	}
	if err := topo.Validate(); err != nil {
		logger.Error("invalid topology", "error", err)
		os.Exit(1)
	}
	topo.ApplyPayloadSizes(sizes)

	sourceData, err := os.ReadFile(topo.SourceData)
	if err != nil {
		logger.Error("reading checkpoint payload source", "error", err, "path", topo.SourceData)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, topo, sourceData, logger); err != nil && err != context.Canceled {
		logger.Error("cdbb exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, topo config.Topology, sourceData []byte, logger *slog.Logger) error {
	fabric := transport.NewFabric(topo.TotalRanks)

	// shutdownCtx/shutdownCancel lets a writer that has reached
	// topo.MaxCheckpoints unwind the whole job through ordinary context
	// cancellation once every writer has joined the shutdown barrier. When
	// MaxCheckpoints is 0 this path is never reached and the job runs
	// until ctx itself ends.
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	shutdown := lifecycle.NewController()
	writerCount := countWriterRanks(topo)

	// A rank that returns an error ends only its own goroutine; the other
	// ranks keep running, and g.Wait reports the first error once all end.
	var g errgroup.Group
	gctx := shutdownCtx
	for r := 0; r < topo.TotalRanks; r++ {
		rank := transport.Rank(r)
		kind, band := role.Classify(rank, topo)

		switch kind {
		case role.KindCoordinator:
			g.Go(func() error {
				return coordinator.New(fabric, topo, logger).Run(gctx)
			})
		case role.KindBBNode:
			g.Go(func() error {
				node, err := bbnode.New(rank, fabric, topo, logger)
				if err != nil {
					return err
				}
				return node.Run(gctx)
			})
		case role.KindWriter:
			g.Go(func() error {
				w := writer.New(rank, fabric, topo, band, sourceData, logger)
				if topo.MaxCheckpoints > 0 {
					w = w.WithShutdown(shutdown, writerCount, shutdownCancel)
				}
				return w.Run(gctx)
			})
		}
	}

	return g.Wait()
}

func countWriterRanks(topo config.Topology) int {
	count := 0
	for r := 0; r < topo.TotalRanks; r++ {
		if kind, _ := role.Classify(transport.Rank(r), topo); kind == role.KindWriter {
			count++
		}
	}
	return count
}
