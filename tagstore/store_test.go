package tagstore

import (
	"errors"
	"testing"
	"time"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindDI, "DI"},
		{KindDO, "DO"},
		{KindAI, "AI"},
		{KindAO, "AO"},
		{KindPI, "PI"},
		{KindVirtual, "Virtual"},
		{Kind(99), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.expected {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.kind, got, tc.expected)
		}
	}
}

func TestDeclareAndRead(t *testing.T) {
	s := New()
	if err := s.Declare("DI_TEST", KindDI, false); err != nil {
		t.Fatalf("declare: %v", err)
	}
	sm, err := s.Read("DI_TEST")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sm.Kind != KindDI || sm.Bool {
		t.Errorf("unexpected sample: %+v", sm)
	}
	if sm.Quality != QualityNotConnected {
		t.Errorf("fresh input should be NotConnected, got %v", sm.Quality)
	}
}

func TestDeclareDuplicate(t *testing.T) {
	s := New()
	if err := s.Declare("X", KindDI, false); err != nil {
		t.Fatalf("declare: %v", err)
	}
	if err := s.Declare("X", KindDI, false); err == nil {
		t.Error("expected error on duplicate declaration")
	}
}

func TestUnknownTag(t *testing.T) {
	s := New()
	_, err := s.Read("NOPE")
	if err == nil {
		t.Fatal("expected error reading undeclared tag")
	}
	var ute *UnknownTagError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTagError, got %T", err)
	}
	if ute.Name != "NOPE" {
		t.Errorf("error names %q, want NOPE", ute.Name)
	}
	if err := s.WriteBool("NOPE", true); err == nil {
		t.Error("expected error writing undeclared tag")
	}
}

func TestAnalogClamp(t *testing.T) {
	s := New()
	if err := s.DeclareRanged("AI_PRESS", KindAI, 0, 0, 300); err != nil {
		t.Fatalf("declare: %v", err)
	}

	t.Run("in range stays Good", func(t *testing.T) {
		if err := s.WriteFloat("AI_PRESS", 150); err != nil {
			t.Fatal(err)
		}
		sm, _ := s.Read("AI_PRESS")
		if sm.Float != 150 || sm.Quality != QualityGood {
			t.Errorf("got %v/%v, want 150/Good", sm.Float, sm.Quality)
		}
	})

	t.Run("below range clamps and marks Uncertain", func(t *testing.T) {
		if err := s.WriteFloat("AI_PRESS", -12); err != nil {
			t.Fatal(err)
		}
		sm, _ := s.Read("AI_PRESS")
		if sm.Float != 0 || sm.Quality != QualityUncertain {
			t.Errorf("got %v/%v, want 0/Uncertain", sm.Float, sm.Quality)
		}
	})

	t.Run("above range clamps", func(t *testing.T) {
		if err := s.WriteFloat("AI_PRESS", 400); err != nil {
			t.Fatal(err)
		}
		sm, _ := s.Read("AI_PRESS")
		if sm.Float != 300 || sm.Quality != QualityUncertain {
			t.Errorf("got %v/%v, want 300/Uncertain", sm.Float, sm.Quality)
		}
	})

	t.Run("Bad quality is not upgraded by clamp", func(t *testing.T) {
		if err := s.WriteFloatQuality("AI_PRESS", 400, QualityBad); err != nil {
			t.Fatal(err)
		}
		sm, _ := s.Read("AI_PRESS")
		if sm.Quality != QualityBad {
			t.Errorf("got %v, want Bad", sm.Quality)
		}
	})
}

func TestPulseCounter(t *testing.T) {
	s := New()
	if err := s.Declare("PI_METER", KindPI, uint64(0)); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCount("PI_METER", 123456); err != nil {
		t.Fatal(err)
	}
	c, err := s.Count("PI_METER")
	if err != nil || c != 123456 {
		t.Errorf("got %d/%v, want 123456", c, err)
	}
}

func TestSetQuality(t *testing.T) {
	s := New()
	s.DeclareRanged("AI_X", KindAI, 42, 0, 100)
	s.WriteFloat("AI_X", 42)
	if err := s.SetQuality("AI_X", QualityBad); err != nil {
		t.Fatal(err)
	}
	sm, _ := s.Read("AI_X")
	if sm.Float != 42 || sm.Quality != QualityBad {
		t.Errorf("SetQuality should preserve value: %+v", sm)
	}
}

func TestSnapshotAndIter(t *testing.T) {
	s := New()
	s.Declare("DI_B", KindDI, false)
	s.Declare("DI_A", KindDI, true)
	s.Declare("DO_X", KindDO, false)
	s.DeclareRanged("AI_Y", KindAI, 0, 0, 10)

	snap := s.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("snapshot has %d tags, want 4", len(snap))
	}
	if !snap["DI_A"].Bool {
		t.Error("DI_A initial value lost in snapshot")
	}

	dis := s.Iter(KindDI)
	if len(dis) != 2 || dis[0] != "DI_A" || dis[1] != "DI_B" {
		t.Errorf("Iter(KindDI) = %v, want sorted [DI_A DI_B]", dis)
	}
}

func TestClockStamping(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewWithClock(func() time.Time { return now })
	s.Declare("DO_T", KindDO, false)

	now = time.Unix(2000, 0)
	s.WriteBool("DO_T", true)
	sm, _ := s.Read("DO_T")
	if !sm.Timestamp.Equal(time.Unix(2000, 0)) {
		t.Errorf("timestamp = %v, want frozen clock value", sm.Timestamp)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	s.DeclareRanged("AI_C", KindAI, 0, 0, 1000)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.WriteFloat("AI_C", float64(i))
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		s.Read("AI_C")
	}
	<-done
}
