package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFabric_SendRecvExact(t *testing.T) {
	f := NewFabric(4)
	f.Send(1, 0, TagProbeSize, EncodeInt32(42))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := f.Recv(ctx, 0, TagProbeSize, 1)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if env.Source != 1 {
		t.Fatalf("source = %d, want 1", env.Source)
	}
	v, err := DecodeInt32(env.Payload)
	if err != nil || v != 42 {
		t.Fatalf("decoded %d, err %v, want 42", v, err)
	}
}

func TestFabric_RecvAnyIdentifiesSource(t *testing.T) {
	f := NewFabric(4)

	go func() {
		f.SendAnnounced(3, 0, TagSenderKind, EncodeInt32(int32(SenderKindWriterProbe)))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := f.RecvAny(ctx, 0, TagSenderKind)
	if err != nil {
		t.Fatalf("RecvAny: %v", err)
	}
	if env.Source != 3 {
		t.Fatalf("source = %d, want 3", env.Source)
	}
}

// TestFabric_NoCrossTalkBetweenConcurrentSenders is the key correctness
// property for the BB producer: two writers concurrently sending
// (INGEST_SIZE, INGEST_DATA) pairs to the same BB must never have their
// payloads cross-matched, because the second recv of each pair is pinned
// to the source rank learned from the first.
func TestFabric_NoCrossTalkBetweenConcurrentSenders(t *testing.T) {
	f := NewFabric(20)
	const bbRank Rank = 7
	writers := []Rank{1, 2, 3, 4, 5}

	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w Rank) {
			defer wg.Done()
			size := int32(w) * 100
			f.SendAnnounced(w, bbRank, TagIngestSize, EncodeInt32(size))
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(w)
			}
			f.Send(w, bbRank, TagIngestData, data)
		}(w)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(map[Rank]int32)
	for range writers {
		sizeEnv, err := f.RecvAny(ctx, bbRank, TagIngestSize)
		if err != nil {
			t.Fatalf("RecvAny: %v", err)
		}
		size, err := DecodeInt32(sizeEnv.Payload)
		if err != nil {
			t.Fatalf("DecodeInt32: %v", err)
		}
		dataEnv, err := f.Recv(ctx, bbRank, TagIngestData, sizeEnv.Source)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if int32(len(dataEnv.Payload)) != size {
			t.Fatalf("writer %d: size %d != data length %d", sizeEnv.Source, size, len(dataEnv.Payload))
		}
		for _, b := range dataEnv.Payload {
			if b != byte(sizeEnv.Source) {
				t.Fatalf("writer %d: data payload contaminated by another sender", sizeEnv.Source)
			}
		}
		results[sizeEnv.Source] = size
	}
	wg.Wait()

	for _, w := range writers {
		if results[w] != int32(w)*100 {
			t.Fatalf("writer %d: got size %d, want %d", w, results[w], int32(w)*100)
		}
	}
}

func TestFabric_Barrier(t *testing.T) {
	f := NewFabric(3)
	var wg sync.WaitGroup
	order := make(chan int, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			f.Barrier(3)
			order <- i
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never released all goroutines")
	}
	close(order)
	count := 0
	for range order {
		count++
	}
	if count != 3 {
		t.Fatalf("got %d releases, want 3", count)
	}
}
