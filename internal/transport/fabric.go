// Package transport is an in-process stand-in for an MPI-like message
// layer: reliable, ordered, point-to-point delivery with source-rank
// identity, tag demultiplexing, a barrier primitive, and rank/size
// discovery. Fabric implements that contract over goroutines and
// channels, one goroutine per rank standing in for one MPI process, so
// the rest of the module never has to know whether it's sitting on a real
// interconnect or not.
package transport

import (
	"context"
	"fmt"
	"sync"
)

type exactKey struct {
	dest   Rank
	tag    Tag
	source Rank
}

type doorbellKey struct {
	dest Rank
	tag  Tag
}

// Fabric is the message-passing substrate shared by every rank goroutine.
type Fabric struct {
	size int

	mu        sync.Mutex
	exact     map[exactKey]chan []byte
	doorbells map[doorbellKey]chan Rank

	barrierMu    sync.Mutex
	barrierCond  *sync.Cond
	barrierCount int
	barrierGen   int
}

// exactQueueDepth bounds how many in-flight messages a single (dest, tag,
// source) pair may queue before Send blocks. The protocol never has more
// than one outstanding message per pair in flight, but a small buffer
// keeps Send from rendezvous-blocking on every call.
const exactQueueDepth = 8

// NewFabric creates a Fabric sized for `size` ranks (ranks 0..size-1).
func NewFabric(size int) *Fabric {
	f := &Fabric{
		size:      size,
		exact:     make(map[exactKey]chan []byte),
		doorbells: make(map[doorbellKey]chan Rank),
	}
	f.barrierCond = sync.NewCond(&f.barrierMu)
	return f
}

// Size returns the total number of ranks in the job.
func (f *Fabric) Size() int { return f.size }

func (f *Fabric) exactChan(k exactKey) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.exact[k]
	if !ok {
		ch = make(chan []byte, exactQueueDepth)
		f.exact[k] = ch
	}
	return ch
}

func (f *Fabric) doorbellChan(k doorbellKey) chan Rank {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.doorbells[k]
	if !ok {
		// Buffered generously: every announced send for this (dest, tag)
		// pushes exactly one doorbell entry, and RecvAny drains one per
		// call, so this only needs to absorb bursts between receives.
		ch = make(chan Rank, f.size)
		f.doorbells[k] = ch
	}
	return ch
}

// Send delivers payload from "from" to "to" on tag, for a receiver that
// already knows the sender's rank (i.e. will call Recv with an explicit
// source). This is the common case once a conversation's first message has
// identified the peer.
func (f *Fabric) Send(from, to Rank, tag Tag, payload []byte) {
	f.exactChan(exactKey{dest: to, tag: tag, source: from}) <- payload
}

// SendAnnounced is like Send but also posts a doorbell entry so a receiver
// blocked in RecvAny(to, tag) learns the source rank. Used for the first
// message of an exchange where the receiver doesn't yet know who is
// calling: a sender-kind probe to the coordinator, or a writer's
// ingest-size message to a BB node it may never have talked to before.
func (f *Fabric) SendAnnounced(from, to Rank, tag Tag, payload []byte) {
	f.exactChan(exactKey{dest: to, tag: tag, source: from}) <- payload
	f.doorbellChan(doorbellKey{dest: to, tag: tag}) <- from
}

// Recv blocks until a message from "from" to "self" on tag arrives.
func (f *Fabric) Recv(ctx context.Context, self Rank, tag Tag, from Rank) (Envelope, error) {
	ch := f.exactChan(exactKey{dest: self, tag: tag, source: from})
	select {
	case payload := <-ch:
		return Envelope{Tag: tag, Source: from, Payload: payload}, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// RecvAny blocks until any rank sends self a message on tag via
// SendAnnounced, and returns it together with the sender's rank.
func (f *Fabric) RecvAny(ctx context.Context, self Rank, tag Tag) (Envelope, error) {
	doorbell := f.doorbellChan(doorbellKey{dest: self, tag: tag})
	var from Rank
	select {
	case from = <-doorbell:
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}

	ch := f.exactChan(exactKey{dest: self, tag: tag, source: from})
	select {
	case payload := <-ch:
		return Envelope{Tag: tag, Source: from, Payload: payload}, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Barrier blocks every caller until exactly `participants` goroutines have
// called Barrier with the same value, mirroring MPI_Barrier.
func (f *Fabric) Barrier(participants int) {
	f.barrierMu.Lock()
	gen := f.barrierGen
	f.barrierCount++
	if f.barrierCount == participants {
		f.barrierCount = 0
		f.barrierGen++
		f.barrierCond.Broadcast()
	} else {
		for gen == f.barrierGen {
			f.barrierCond.Wait()
		}
	}
	f.barrierMu.Unlock()
}

// String helpers for logging.
func (r Rank) String() string { return fmt.Sprintf("rank%d", int32(r)) }
