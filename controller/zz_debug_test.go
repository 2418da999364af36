package controller

import (
	"testing"
	"lactlink/statemach"
)

func TestDebugProve(t *testing.T) {
	r := newRig(t, nil)
	r.toRunning(t)
	t.Logf("state before prove: %v", r.ctl.State())
	if err := r.ctl.Prove(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		r.scans(1)
		t.Logf("scan %d state=%v active=%v", i, r.ctl.State(), r.ctl.proving.Active())
	}
	_ = statemach.Proving
}
