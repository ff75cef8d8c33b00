// Package config holds the CDBB topology: the build-time constants
// (BB capacity, stride, max queue depth, the checkpoint period) plus the
// generated band layout, with an optional YAML override for scaling the
// simulation up or down without a rebuild.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/burstbuffer/cdbb/internal/transport"
	"gopkg.in/yaml.v3"
)

// SentinelPFS is the named "no BB available" target rank, used instead of
// a bare magic constant wherever a decision routes a writer to PFS.
const SentinelPFS transport.Rank = 666

const (
	// DefaultBBCapacity is the per-BB in-memory buffer size. Kept far
	// smaller than a production multi-gigabyte buffer so tests and demo
	// runs don't need large allocations; overridable via the YAML
	// topology file for realistic-scale runs.
	DefaultBBCapacity int64 = 4 * 1024 * 1024

	// DefaultMaxQueue bounds outstanding chunks in a BB node's pending
	// FIFO.
	DefaultMaxQueue = 2000

	// DefaultStride is the spacing between BB host ranks.
	DefaultStride = 8

	// DefaultCheckpointInterval is the writer's period between checkpoints.
	DefaultCheckpointInterval = 600 * time.Second

	// DefaultStagger is the per-band initial-delay multiplier.
	DefaultStagger = 120 * time.Second

	// DefaultDrainRoot is the build-time constant PFS mount point.
	DefaultDrainRoot = "/var/lib/cdbb/pfs"

	// DefaultSourceDataPath is the build-time constant checkpoint payload
	// source file, loaded once at rank init and reused for every
	// checkpoint.
	DefaultSourceDataPath = "/var/lib/cdbb/payload.bin"

	// DefaultTotalRanks sizes the default topology: 5 application bands
	// plus one BB node per band plus the coordinator, scaled to a size
	// convenient for a single-process goroutine simulation.
	DefaultTotalRanks = 40

	// NumApplications is fixed by the CLI contract: exactly 5 positional
	// payload sizes, one per application band.
	NumApplications = 5
)

// Band is one contiguous range of writer ranks belonging to a single
// application.
type Band struct {
	Index        int           `yaml:"index"`
	RankLo       transport.Rank `yaml:"rank_lo"`
	RankHi       transport.Rank `yaml:"rank_hi"`
	PayloadSize  int64          `yaml:"-"` // filled in from CLI args, not YAML
	InitialDelay time.Duration  `yaml:"-"`
	Period       time.Duration  `yaml:"-"`
}

// Contains reports whether rank falls in this band's range.
func (b Band) Contains(rank transport.Rank) bool {
	return rank >= b.RankLo && rank <= b.RankHi
}

// Topology is the full static configuration of one CDBB job.
type Topology struct {
	TotalRanks  int    `yaml:"total_ranks"`
	Stride      int    `yaml:"stride"`
	BBCapacity  int64  `yaml:"bb_capacity_bytes"`
	MaxQueue    int    `yaml:"max_queue"`
	DrainRoot   string `yaml:"drain_root"`
	SourceData  string `yaml:"source_data_path"`
	Checkpoint  time.Duration `yaml:"checkpoint_interval"`
	Stagger     time.Duration `yaml:"stagger"`

	// DrainBytesPerSec throttles a BB node's drain-to-PFS path; 0 disables
	// throttling.
	DrainBytesPerSec int64 `yaml:"drain_bytes_per_sec"`

	// MaxCheckpoints bounds each writer to that many checkpoints before it
	// requests the optional shutdown barrier. 0 means unbounded: the job
	// runs until the process is killed.
	MaxCheckpoints int64 `yaml:"max_checkpoints"`

	Bands []Band `yaml:"bands"`
}

// DefaultTopology returns the built-in 40-rank / 5-band / stride-8 layout.
// Bands are chosen to be numerically disjoint from BB ranks (every rank
// with rank%stride==stride-1), so classification never needs a priority
// fallthrough between "is this a BB rank" and "is this a band rank".
func DefaultTopology() Topology {
	return Topology{
		TotalRanks: DefaultTotalRanks,
		Stride:     DefaultStride,
		BBCapacity: DefaultBBCapacity,
		MaxQueue:   DefaultMaxQueue,
		DrainRoot:  DefaultDrainRoot,
		SourceData: DefaultSourceDataPath,
		Checkpoint: DefaultCheckpointInterval,
		Stagger:    DefaultStagger,
		Bands: []Band{
			{Index: 1, RankLo: 1, RankHi: 6},
			{Index: 2, RankLo: 8, RankHi: 14},
			{Index: 3, RankLo: 16, RankHi: 22},
			{Index: 4, RankLo: 24, RankHi: 30},
			{Index: 5, RankLo: 32, RankHi: 38},
		},
	}
}

// LoadOverride merges an optional YAML topology file over the default
// topology. A missing path is not an error: the caller passes "" to skip
// this entirely.
func LoadOverride(path string, base Topology) (Topology, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("reading topology override: %w", err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return Topology{}, fmt.Errorf("parsing topology override: %w", err)
	}
	return base, nil
}

// ApplyPayloadSizes assigns the 5 CLI-provided payload sizes to the bands
// in index order and fills in each band's stagger and period.
func (t *Topology) ApplyPayloadSizes(sizes [NumApplications]int64) {
	for i := range t.Bands {
		t.Bands[i].PayloadSize = sizes[i]
		t.Bands[i].InitialDelay = time.Duration(i) * t.Stagger
		t.Bands[i].Period = t.Checkpoint
	}
}

// BBSlotCount is TotalRanks / Stride by integer (floor) division, which
// keeps the occupancy vector's length equal to the number of BB ranks that
// actually exist at rank%stride==stride-1 within [0, TotalRanks). It
// undercounts when TotalRanks isn't a multiple of Stride, which is fine
// since a partial trailing band never contains a BB rank anyway.
func (t Topology) BBSlotCount() int {
	return t.TotalRanks / t.Stride
}

// Validate enforces the structural invariants: bands must be disjoint,
// non-empty, and must not cover the coordinator or any BB rank.
func (t Topology) Validate() error {
	if t.Stride <= 0 {
		return fmt.Errorf("config: stride must be > 0")
	}
	if t.TotalRanks <= 0 {
		return fmt.Errorf("config: total_ranks must be > 0")
	}
	if len(t.Bands) != NumApplications {
		return fmt.Errorf("config: expected %d bands, got %d", NumApplications, len(t.Bands))
	}

	isBB := func(r transport.Rank) bool { return int(r)%t.Stride == t.Stride-1 }

	for i, b := range t.Bands {
		if b.RankLo > b.RankHi {
			return fmt.Errorf("config: band %d has rank_lo > rank_hi", b.Index)
		}
		if b.RankLo == 0 {
			return fmt.Errorf("config: band %d overlaps the coordinator rank", b.Index)
		}
		for r := b.RankLo; r <= b.RankHi; r++ {
			if isBB(r) {
				return fmt.Errorf("config: band %d contains BB rank %d", b.Index, r)
			}
		}
		for j, other := range t.Bands {
			if i == j {
				continue
			}
			if b.RankLo <= other.RankHi && other.RankLo <= b.RankHi {
				return fmt.Errorf("config: band %d overlaps band %d", b.Index, other.Index)
			}
		}
	}
	return nil
}
