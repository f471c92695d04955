package hypothesis

import (
	"testing"
	"time"

	"EdgeLab/internal/domain/models"
)

func pendingAt(id string, predicted, due time.Time) *PendingEval {
	return &PendingEval{
		HypothesisID: id,
		Symbol:       "BTCUSDT",
		Direction:    models.DirUp,
		EntryPrice:   100,
		PredictedAt:  predicted,
		DueAt:        due,
	}
}

func TestPendingQueuePopDue(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := NewPendingQueue()
	q.Push(pendingAt("late", base, base.Add(5*time.Minute)))
	q.Push(pendingAt("early", base, base.Add(1*time.Minute)))
	q.Push(pendingAt("exact", base, base.Add(3*time.Minute)))

	due := q.PopDue(base.Add(3 * time.Minute))
	if len(due) != 2 {
		t.Fatalf("due count = %d, want 2", len(due))
	}
	if due[0].HypothesisID != "early" || due[1].HypothesisID != "exact" {
		t.Fatalf("due order = [%s, %s], want [early, exact]", due[0].HypothesisID, due[1].HypothesisID)
	}
	if q.Len() != 1 {
		t.Fatalf("remaining = %d, want 1", q.Len())
	}

	if due := q.PopDue(base.Add(4 * time.Minute)); due != nil {
		t.Fatalf("nothing should be due yet, got %d", len(due))
	}
	due = q.PopDue(base.Add(time.Hour))
	if len(due) != 1 || due[0].HypothesisID != "late" {
		t.Fatalf("final pop = %+v", due)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, len = %d", q.Len())
	}
}

func TestPendingQueueTieOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := base.Add(2 * time.Minute)
	q := NewPendingQueue()
	// Same due time: earlier prediction first, then id.
	q.Push(pendingAt("b", base.Add(time.Minute), due))
	q.Push(pendingAt("a", base.Add(time.Minute), due))
	q.Push(pendingAt("z", base, due))

	got := q.PopDue(due)
	if len(got) != 3 {
		t.Fatalf("due count = %d, want 3", len(got))
	}
	want := []string{"z", "a", "b"}
	for i, p := range got {
		if p.HypothesisID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, p.HypothesisID, want[i])
		}
	}
}

func TestPendingQueuePeek(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := NewPendingQueue()
	if _, ok := q.Peek(); ok {
		t.Fatal("peek on empty queue should report not ok")
	}
	q.Push(pendingAt("second", base, base.Add(2*time.Minute)))
	q.Push(pendingAt("first", base, base.Add(1*time.Minute)))

	p, ok := q.Peek()
	if !ok || p.HypothesisID != "first" {
		t.Fatalf("peek = %+v ok=%v, want first", p, ok)
	}
	if q.Len() != 2 {
		t.Fatalf("peek must not remove, len = %d", q.Len())
	}
}
