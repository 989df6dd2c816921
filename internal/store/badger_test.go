package store

import (
	"context"
	"testing"
)

func TestBadgerSinkWriteAndRead(t *testing.T) {
	ctx := context.Background()

	sink, err := OpenBadger(BadgerOptions{InMemory: true}, testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	defer sink.Close()

	if err := sink.WriteBatch(ctx, []Detection{detection(0), detection(1)}); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if err := sink.WriteBatch(ctx, []Detection{detection(2)}); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	recent, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 detections, got %d", len(recent))
	}

	for i, want := range []uint64{2, 1, 0} {
		got := recent[i]
		if got.ChunkSeq != want {
			t.Errorf("Position %d: expected chunk %d, got %d", i, want, got.ChunkSeq)
		}
		if !got.TimestampUTC.Equal(detection(want).TimestampUTC) {
			t.Errorf("Position %d: timestamp mismatch %v", i, got.TimestampUTC)
		}
	}
}

func TestBadgerSinkSameTimestamp(t *testing.T) {
	ctx := context.Background()

	sink, err := OpenBadger(BadgerOptions{InMemory: true}, testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	defer sink.Close()

	a, b := detection(0), detection(0)
	b.Species = "Parus major"

	if err := sink.WriteBatch(ctx, []Detection{a, b}); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	recent, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected both detections kept, got %d", len(recent))
	}
	if recent[0].Species != "Parus major" {
		t.Errorf("Expected last written first, got %s", recent[0].Species)
	}
}

func TestBadgerSinkOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := OpenBadger(BadgerOptions{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	if err := sink.WriteBatch(ctx, []Detection{detection(5)}); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	sink, err = OpenBadger(BadgerOptions{Dir: dir}, testLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer sink.Close()

	recent, err := sink.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ChunkSeq != 5 {
		t.Errorf("Expected detection 5 after reopen, got %+v", recent)
	}
}

func TestOpenBadgerRequiresDir(t *testing.T) {
	if _, err := OpenBadger(BadgerOptions{}, testLogger()); err == nil {
		t.Error("Expected error without directory")
	}
}
