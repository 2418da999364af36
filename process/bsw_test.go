package process

import (
	"testing"

	"lactlink/statemach"
	"lactlink/tags"
	"lactlink/tagstore"
)

func bswMean(t *testing.T, store *tagstore.Store) float64 {
	t.Helper()
	sm, err := store.Read(tags.BSWPct)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := sm.Any.(float64)
	return v
}

func TestBSWRollingMean(t *testing.T) {
	store := newStore(t)
	b := NewBSW()

	store.WriteFloat(tags.AIBSWProbe, 1.0)
	b.Execute(newEnv(store, statemach.Running, 1))
	store.WriteFloat(tags.AIBSWProbe, 3.0)
	b.Execute(newEnv(store, statemach.Running, 2))

	if got := bswMean(t, store); !approx(got, 2.0, 1e-12) {
		t.Errorf("mean = %v, want 2.0", got)
	}
}

func TestBSWWindowSlides(t *testing.T) {
	store := newStore(t)
	b := NewBSW()

	// Fill the window with 1.0, then push 2.0 through it.
	store.WriteFloat(tags.AIBSWProbe, 1.0)
	for i := 0; i < bswWindow; i++ {
		b.Execute(newEnv(store, statemach.Running, uint64(i+1)))
	}
	store.WriteFloat(tags.AIBSWProbe, 2.0)
	for i := 0; i < bswWindow; i++ {
		b.Execute(newEnv(store, statemach.Running, uint64(bswWindow+i+1)))
	}
	if got := b.Mean(); !approx(got, 2.0, 1e-9) {
		t.Errorf("mean after full slide = %v, want 2.0", got)
	}
}

func TestBSWRejectsBadSamples(t *testing.T) {
	store := newStore(t)
	b := NewBSW()

	store.WriteFloat(tags.AIBSWProbe, 0.5)
	b.Execute(newEnv(store, statemach.Running, 1))

	// Bad quality sample must not move the mean, and the published
	// value is flagged Bad.
	store.WriteFloatQuality(tags.AIBSWProbe, 4.8, tagstore.QualityBad)
	b.Execute(newEnv(store, statemach.Running, 2))

	if got := b.Mean(); !approx(got, 0.5, 1e-12) {
		t.Errorf("mean moved on bad sample: %v", got)
	}
	sm, _ := store.Read(tags.BSWPct)
	if sm.Quality != tagstore.QualityBad {
		t.Errorf("published quality = %v, want Bad", sm.Quality)
	}

	// A good sample restores the published quality.
	store.WriteFloat(tags.AIBSWProbe, 0.5)
	b.Execute(newEnv(store, statemach.Running, 3))
	sm, _ = store.Read(tags.BSWPct)
	if sm.Quality != tagstore.QualityGood {
		t.Errorf("published quality = %v, want Good after recovery", sm.Quality)
	}
}

func TestBSWDivertReason(t *testing.T) {
	store := newStore(t)
	b := NewBSW()
	store.WriteFloat(tags.AIBSWProbe, 2.5)
	b.Execute(newEnv(store, statemach.Running, 1))

	sm, _ := store.Read(tags.DivertReason)
	if s, _ := sm.Any.(string); s == "" {
		t.Error("divert reason not published while mean above setpoint")
	}
}
