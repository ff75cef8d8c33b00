package coordinator

import (
	"sync"

	"github.com/burstbuffer/cdbb/internal/config"
	"github.com/burstbuffer/cdbb/internal/transport"
)

// OccupancyVector is the coordinator's view of every BB node's reported
// byte occupancy, indexed by BB slot (rank/stride). Every BB node pushes
// its current total with a report message; the fabric has no one-sided
// get/put, so there's no pulling a remote rank's value directly.
type OccupancyVector struct {
	mu       sync.Mutex
	slots    []uint64
	stride   int
	capacity uint64
}

// NewOccupancyVector builds a vector sized for topo's BB slot count.
func NewOccupancyVector(topo config.Topology) *OccupancyVector {
	return &OccupancyVector{
		slots:    make([]uint64, topo.BBSlotCount()),
		stride:   topo.Stride,
		capacity: uint64(topo.BBCapacity),
	}
}

// slotOf maps any rank to its BB slot index: each stride-sized band of
// ranks shares the BB node at the top of that band.
func (ov *OccupancyVector) slotOf(rank transport.Rank) int {
	return int(rank) / ov.stride
}

// bbRankOf maps a slot index back to the BB rank that hosts it.
func (ov *OccupancyVector) bbRankOf(slot int) transport.Rank {
	return transport.Rank(slot*ov.stride + (ov.stride - 1))
}

// Report records a BB node's self-reported occupancy, keyed by the BB
// node's own rank.
func (ov *OccupancyVector) Report(bbRank transport.Rank, occupancy uint64) {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	slot := ov.slotOf(bbRank)
	if slot >= 0 && slot < len(ov.slots) {
		ov.slots[slot] = occupancy
	}
}

// Snapshot returns a copy of the current vector, for logging.
func (ov *OccupancyVector) Snapshot() []uint64 {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	out := make([]uint64, len(ov.slots))
	copy(out, ov.slots)
	return out
}

// Decision is the coordinator's answer to a writer's admission probe.
type Decision struct {
	Accepted bool
	Target   transport.Rank
}

// Decide implements the placement algorithm: prefer the writer's local BB
// slot; if adding size to that slot would reach or exceed capacity (a slot
// accepts only while occupancy+size stays strictly below capacity), fall
// back to the globally least-occupied slot; if that slot fails the same
// test, reject and point the writer at the PFS sentinel. Acceptance reserves the requested size
// against the chosen slot immediately, before the writer's data has
// actually arrived, so the vector stays an optimistic upper bound rather
// than a measurement of bytes currently sitting in the buffer.
func (ov *OccupancyVector) Decide(writerRank transport.Rank, size int64) Decision {
	ov.mu.Lock()
	defer ov.mu.Unlock()

	localSlot := ov.slotOf(writerRank)
	if localSlot >= 0 && localSlot < len(ov.slots) {
		if ov.slots[localSlot]+uint64(size) < ov.capacity {
			ov.slots[localSlot] += uint64(size)
			return Decision{Accepted: true, Target: ov.bbRankOf(localSlot)}
		}
	}

	lightest := findSmallest(ov.slots)
	if lightest >= 0 && ov.slots[lightest]+uint64(size) < ov.capacity {
		ov.slots[lightest] += uint64(size)
		return Decision{Accepted: true, Target: ov.bbRankOf(lightest)}
	}

	return Decision{Accepted: false, Target: config.SentinelPFS}
}

// findSmallest returns the index of the minimum-occupancy slot. Ties go to
// the first index encountered, since the scan only replaces best on a
// strictly smaller value.
func findSmallest(slots []uint64) int {
	if len(slots) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(slots); i++ {
		if slots[i] < slots[best] {
			best = i
		}
	}
	return best
}
