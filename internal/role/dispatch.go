// Package role classifies a rank within a topology by the role it plays:
// coordinator, BB node, writer, or
// idle (a rank the topology doesn't assign any duty, which can occur when
// TotalRanks isn't fully covered by bands and BB slots).
package role

import (
	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/transport"
)

// Kind identifies which of the four roles a rank plays.
type Kind int

const (
	KindIdle Kind = iota
	KindCoordinator
	KindBBNode
	KindWriter
)

func (k Kind) String() string {
	switch k {
	case KindCoordinator:
		return "coordinator"
	case KindBBNode:
		return "bbnode"
	case KindWriter:
		return "writer"
	default:
		return "idle"
	}
}

// Classify determines rank's role under topo. A rank is the coordinator
// only at rank 0, a BB node when rank%stride==stride-1 (checked before
// band membership, since BB ranks are deliberately excluded from every
// band), and a writer when it falls in a band, taking the first band in
// topo.Bands that contains it; anything else is idle.
func Classify(rank transport.Rank, topo config.Topology) (Kind, config.Band) {
	if rank == 0 {
		return KindCoordinator, config.Band{}
	}
	if int(rank)%topo.Stride == topo.Stride-1 {
		return KindBBNode, config.Band{}
	}
	for _, b := range topo.Bands {
		if b.Contains(rank) {
			return KindWriter, b
		}
	}
	return KindIdle, config.Band{}
}
