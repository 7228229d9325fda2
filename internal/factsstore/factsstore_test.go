package factsstore

import (
	"testing"
	"time"

	"github.com/weillium/eventrt/internal/eventmodel"
)

func eventmodelFact(confidence float64) eventmodel.Fact {
	return eventmodel.Fact{Confidence: confidence, CreatedAt: time.Now()}
}

func TestUpsert_NewFactStartsAtClampedConfidence(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("topic", "pricing", 0.5, 1, "chunk-1")

	f, ok := s.Get("topic")
	if !ok {
		t.Fatal("expected fact to exist")
	}
	if f.Value != "pricing" {
		t.Errorf("Value = %v; want pricing", f.Value)
	}
	if f.Confidence != 0.5 {
		t.Errorf("Confidence = %v; want 0.5", f.Confidence)
	}
	if f.LastSeenSeq != 1 {
		t.Errorf("LastSeenSeq = %d; want 1", f.LastSeenSeq)
	}
}

func TestUpsert_SameValueIncreasesConfidence(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("topic", "pricing", 0.5, 1, "")
	s.Upsert("topic", "pricing", 0.5, 2, "")

	f, _ := s.Get("topic")
	if f.Confidence != 0.6 {
		t.Errorf("Confidence = %v; want 0.6", f.Confidence)
	}
}

func TestUpsert_DifferentValueDecreasesConfidenceAndReplaces(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("topic", "pricing", 0.5, 1, "")
	s.Upsert("topic", "roadmap", 0.5, 2, "")

	f, _ := s.Get("topic")
	if f.Value != "roadmap" {
		t.Errorf("Value = %v; want roadmap", f.Value)
	}
	if f.Confidence != 0.3 {
		t.Errorf("Confidence = %v; want 0.3", f.Confidence)
	}
}

func TestUpsert_ConfidenceClampedToBounds(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("k", "v", 0.99, 1, "")
	s.Upsert("k", "v", 0.99, 2, "")
	f, _ := s.Get("k")
	if f.Confidence != maxConfidence {
		t.Errorf("Confidence = %v; want clamped to %v", f.Confidence, maxConfidence)
	}

	s2 := New(10)
	s2.Upsert("k", "v", 0.05, 1, "")
	f2, _ := s2.Get("k")
	if f2.Confidence != minConfidence {
		t.Errorf("Confidence = %v; want clamped to %v", f2.Confidence, minConfidence)
	}
}

func TestUpsert_RejectsEmptyKeyAndNaN(t *testing.T) {
	t.Parallel()
	var rejected []string
	s := New(10, WithLogFunc(func(msg string, args ...any) { rejected = append(rejected, msg) }))

	s.Upsert("", "v", 0.5, 1, "")
	s.Upsert("k", "v", nanValue(), 1, "")

	if len(rejected) != 2 {
		t.Fatalf("rejected = %d; want 2", len(rejected))
	}
	if _, ok := s.Get("k"); ok {
		t.Error("expected NaN-confidence upsert not to be stored")
	}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestUpsert_EvictsLowestRankedOverCapacity(t *testing.T) {
	t.Parallel()
	s := New(2)
	s.Upsert("a", "v", 0.2, 1, "")
	s.Upsert("b", "v", 0.5, 2, "")
	evicted := s.Upsert("c", "v", 0.8, 3, "")

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v; want [a]", evicted)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("expected c to remain")
	}
}

func TestMarkDormant_ExcludedFromDefaultSnapshot(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("k", "v", 0.5, 1, "")
	s.MarkDormant("k", time.Now(), 0.1)

	snaps := s.GetSnapshot(false)
	if len(snaps) != 0 {
		t.Fatalf("expected dormant fact excluded, got %d", len(snaps))
	}
	all := s.GetSnapshot(true)
	if len(all) != 1 {
		t.Fatalf("expected dormant fact included with includeDormant, got %d", len(all))
	}
	if all[0].Fact.Confidence != 0.4 {
		t.Errorf("Confidence after dormancy = %v; want 0.4", all[0].Fact.Confidence)
	}
}

func TestReviveFromSelection_RequiresHysteresisThreshold(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("k", "v", 0.5, 1, "")
	s.MarkDormant("k", time.Now(), 0.1) // confidence now 0.4

	if s.ReviveFromSelection("k", 0.4) {
		t.Error("expected no revival below hysteresis delta")
	}

	s.Upsert("k", "v", 0.4, 2, "") // same value bump: 0.4 -> 0.5
	if !s.ReviveFromSelection("k", 0.4) {
		t.Error("expected revival once gain meets hysteresis delta")
	}
	f, _ := s.Get("k")
	if f.DormantAt != nil {
		t.Error("expected DormantAt cleared after revival")
	}
}

func TestPrune_RemovesAndEnqueuesDrain(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("k", "v", 0.5, 1, "")
	s.Prune("k")

	if _, ok := s.Get("k"); ok {
		t.Error("expected fact removed after prune")
	}
	drained := s.DrainPruned()
	if len(drained) != 1 || drained[0] != "k" {
		t.Fatalf("drained = %v; want [k]", drained)
	}
	if len(s.DrainPruned()) != 0 {
		t.Error("expected drain queue cleared after DrainPruned")
	}
}

func TestGetStats_CountsActiveAndDormant(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("a", "v", 0.5, 1, "")
	s.Upsert("b", "v", 0.5, 2, "")
	s.MarkDormant("b", time.Now(), 0.1)

	stats := s.GetStats()
	if stats.Active != 1 || stats.Dormant != 1 {
		t.Errorf("stats = %+v; want {Active:1 Dormant:1}", stats)
	}
}

func TestGetContextFormatAndBullets_SortedByKey(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("zebra", "z", 0.5, 1, "")
	s.Upsert("apple", "a", 0.5, 2, "")

	format := s.GetContextFormat()
	want := "apple: a\nzebra: z"
	if format != want {
		t.Errorf("GetContextFormat = %q; want %q", format, want)
	}

	bullets := s.GetBullets()
	if len(bullets) != 2 || bullets[0] != "- apple: a" || bullets[1] != "- zebra: z" {
		t.Errorf("GetBullets = %v", bullets)
	}
}

func TestLoadFacts_BulkInsertsAndEvicts(t *testing.T) {
	t.Parallel()
	s := New(1)
	evicted := s.LoadFacts([]Snapshot{
		{Key: "a", Fact: eventmodelFact(0.2)},
		{Key: "b", Fact: eventmodelFact(0.8)},
	})
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v; want [a]", evicted)
	}
}

func TestAppendBoundedSource_DedupesAndBounds(t *testing.T) {
	t.Parallel()
	s := New(10)
	s.Upsert("k", "v", 0.5, 1, "src-1")
	s.Upsert("k", "v", 0.5, 2, "src-1")
	s.Upsert("k", "v", 0.5, 3, "src-2")

	f, _ := s.Get("k")
	if len(f.Sources) != 2 {
		t.Fatalf("Sources = %v; want 2 deduped entries", f.Sources)
	}
}
