package ledger

import (
	"testing"
	"time"

	"github.com/soaringjerry/synap-respond/internal/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLedger() (*Ledger, *storage.Memory, *fakeClock) {
	mem := storage.NewMemory()
	clk := &fakeClock{t: time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC)}
	return New(mem, WithClock(clk.now)), mem, clk
}

func TestMarkCompletedThenIsCompleted(t *testing.T) {
	lg, _, _ := newTestLedger()
	if lg.IsCompleted("42") {
		t.Fatalf("unmarked survey reported completed")
	}
	lg.MarkCompleted("42")
	if !lg.IsCompleted("42") {
		t.Fatalf("marked survey not reported completed")
	}
	if lg.IsCompleted("43") {
		t.Fatalf("other survey reported completed")
	}
}

func TestMarkCompletedIsUpsert(t *testing.T) {
	lg, _, clk := newTestLedger()
	lg.MarkCompleted("s1")
	first := clk.t
	clk.t = clk.t.Add(2 * time.Hour)
	lg.MarkCompleted("s1")

	all := lg.GetAll()
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
	if !all[0].LastAccessed.Equal(clk.t) || all[0].LastAccessed.Equal(first) {
		t.Fatalf("lastAccessed = %v, want %v", all[0].LastAccessed, clk.t)
	}
}

func TestIsCompletedRequiresTrueFlag(t *testing.T) {
	lg, mem, _ := newTestLedger()
	_ = mem.Set(storage.KeyLedger, `[{"surveyId":"7","completed":false,"lastAccessed":"2025-09-17T12:00:00Z"}]`)
	if lg.IsCompleted("7") {
		t.Fatalf("completed=false entry reported completed")
	}
	if _, ok := lg.GetOne("7"); !ok {
		t.Fatalf("GetOne did not find entry")
	}
}

func TestCleanupBoundary(t *testing.T) {
	lg, _, clk := newTestLedger()
	start := clk.t

	lg.MarkCompleted("old")
	clk.t = start.Add(time.Second)
	lg.MarkCompleted("edge")
	clk.t = start.Add(10 * 24 * time.Hour)
	lg.MarkCompleted("fresh")

	// "edge" is exactly 30 days old, "old" one second more.
	clk.t = start.Add(time.Second + DefaultRetention)
	removed := lg.Cleanup()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := lg.GetOne("old"); ok {
		t.Fatalf("expired record retained")
	}
	for _, id := range []string{"edge", "fresh"} {
		if !lg.IsCompleted(id) {
			t.Fatalf("record %s should be retained", id)
		}
	}
}

func TestCorruptLedgerReadsEmpty(t *testing.T) {
	cases := map[string]string{
		"not json":   "invalid json",
		"not array":  `{"surveyId":"1"}`,
		"null":       "null",
		"empty blob": "",
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			lg, mem, _ := newTestLedger()
			_ = mem.Set(storage.KeyLedger, blob)
			if got := lg.GetAll(); got == nil || len(got) != 0 {
				t.Fatalf("GetAll = %#v, want empty slice", got)
			}
			if lg.IsCompleted("1") {
				t.Fatalf("IsCompleted true on corrupt ledger")
			}
			lg.MarkCompleted("1")
			if !lg.IsCompleted("1") {
				t.Fatalf("MarkCompleted did not recover corrupt ledger")
			}
		})
	}
}

func TestUnavailableStoreNeverPanics(t *testing.T) {
	lg, mem, _ := newTestLedger()
	mem.FailReads = true
	mem.FailWrites = true
	lg.MarkCompleted("1")
	if lg.IsCompleted("1") {
		t.Fatalf("IsCompleted true on unavailable store")
	}
	if n := lg.Cleanup(); n != 0 {
		t.Fatalf("Cleanup removed %d on unavailable store", n)
	}
}

func TestRemove(t *testing.T) {
	lg, _, _ := newTestLedger()
	lg.MarkCompleted("a")
	lg.MarkCompleted("b")
	lg.Remove("a")
	if lg.IsCompleted("a") || !lg.IsCompleted("b") {
		t.Fatalf("Remove dropped the wrong record: %+v", lg.GetAll())
	}
}
