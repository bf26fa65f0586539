package mirror

import (
	"testing"
	"time"
)

func TestTracker_OrderMonotonicInScore(t *testing.T) {
	tr := NewTracker()

	// A served one MiB in 100ms, B in 400ms: A must come first.
	tr.RecordSuccess("https://a.example", ClassBlob, 100*time.Millisecond, 1<<20)
	tr.RecordSuccess("https://b.example", ClassBlob, 400*time.Millisecond, 1<<20)

	ordered := tr.Order([]string{"https://b.example", "https://a.example"}, ClassBlob)
	if ordered[0] != "https://a.example" {
		t.Errorf("ordered[0] = %q, want the faster origin first", ordered[0])
	}
}

func TestTracker_UnprobedOriginsSortLast(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("https://known.example", ClassBlob, 900*time.Millisecond, 1<<20)

	ordered := tr.Order([]string{"https://fresh.example", "https://known.example"}, ClassBlob)
	if ordered[0] != "https://known.example" {
		t.Errorf("ordered[0] = %q, probed origin should precede unprobed", ordered[0])
	}

	// Multiple unprobed origins keep their input order.
	ordered = tr.Order([]string{"https://x.example", "https://y.example"}, ClassBlob)
	if ordered[0] != "https://x.example" || ordered[1] != "https://y.example" {
		t.Errorf("unprobed tie broke input order: %v", ordered)
	}
}

func TestTracker_EWMAUpdate(t *testing.T) {
	tr := NewTracker()

	tr.RecordSuccess("https://a.example", ClassBlob, 100*time.Millisecond, 1<<20)
	snap := tr.Snapshot(false)
	if got := snap["https://a.example"].Blob.Score; got != 100 {
		t.Fatalf("first sample score = %v, want 100", got)
	}

	// Second sample: 0.7*100 + 0.3*300 = 160.
	tr.RecordSuccess("https://a.example", ClassBlob, 300*time.Millisecond, 1<<20)
	snap = tr.Snapshot(false)
	if got := snap["https://a.example"].Blob.Score; got < 159.9 || got > 160.1 {
		t.Errorf("EWMA score = %v, want ~160", got)
	}
}

func TestTracker_NormalizesPerMiB(t *testing.T) {
	tr := NewTracker()

	// 4 MiB in 400ms is 100ms/MiB, the same score as 1 MiB in 100ms.
	tr.RecordSuccess("https://big.example", ClassBlob, 400*time.Millisecond, 4<<20)
	tr.RecordSuccess("https://small.example", ClassBlob, 100*time.Millisecond, 1<<20)

	snap := tr.Snapshot(false)
	big := snap["https://big.example"].Blob.Score
	small := snap["https://small.example"].Blob.Score
	if big != small {
		t.Errorf("scores differ: big=%v small=%v", big, small)
	}
}

func TestTracker_ClassesAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("https://a.example", ClassManifest, 50*time.Millisecond, 2048)
	tr.RecordFailure("https://a.example", ClassBlob)

	snap := tr.Snapshot(false)
	stat := snap["https://a.example"]
	if stat.Manifest.Success != 1 || stat.Manifest.Failure != 0 {
		t.Errorf("manifest stat = %+v", stat.Manifest)
	}
	if stat.Blob.Success != 0 || stat.Blob.Failure != 1 {
		t.Errorf("blob stat = %+v", stat.Blob)
	}
	if stat.Blob.Score != 0 {
		t.Errorf("blob score = %v, failures must not produce a score", stat.Blob.Score)
	}
}

func TestTracker_SeededFromSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess("https://a.example", ClassBlob, 100*time.Millisecond, 1<<20)

	reborn := NewTrackerFrom(tr.Snapshot(true))
	ordered := reborn.Order([]string{"https://new.example", "https://a.example"}, ClassBlob)
	if ordered[0] != "https://a.example" {
		t.Errorf("seeded tracker lost history: %v", ordered)
	}
}

func TestTracker_DirtyFlag(t *testing.T) {
	tr := NewTracker()
	if tr.Dirty() {
		t.Error("fresh tracker should not be dirty")
	}
	tr.RecordFailure("https://a.example", ClassBlob)
	if !tr.Dirty() {
		t.Error("tracker should be dirty after a record")
	}
	tr.Snapshot(true)
	if tr.Dirty() {
		t.Error("taken snapshot should clear dirty")
	}
}
