package process

import (
	"fmt"

	"lactlink/tags"
	"lactlink/tagstore"
)

// bswWindow is the rolling-mean depth: 60 samples at the default
// 100 ms scan is a 6 second window.
const bswWindow = 60

// BSW maintains the rolling mean of the BS&W capacitance probe and
// publishes it as the effective BS&W consumed by the divert logic.
// Out-of-range or bad-quality samples are rejected and the quality is
// propagated to the published mean.
type BSW struct {
	ring  [bswWindow]float64
	count int
	next  int
	sum   float64
}

// NewBSW creates the BS&W monitor.
func NewBSW() *BSW {
	return &BSW{}
}

func (b *BSW) Name() string { return "bsw" }

func (b *BSW) Execute(env Env) error {
	st := env.Store

	sm, err := st.Read(tags.AIBSWProbe)
	if err != nil {
		return err
	}

	if sm.Quality == tagstore.QualityBad || sm.Quality == tagstore.QualityNotConnected ||
		sm.Float < 0 || sm.Float > 5 {
		// Keep the last mean but flag it.
		st.SetQuality(tags.BSWPct, tagstore.QualityBad)
		return nil
	}

	if b.count == bswWindow {
		b.sum -= b.ring[b.next]
	} else {
		b.count++
	}
	b.ring[b.next] = sm.Float
	b.sum += sm.Float
	b.next = (b.next + 1) % bswWindow

	mean := b.sum / float64(b.count)
	st.WriteAny(tags.BSWPct, mean)
	if sm.Quality == tagstore.QualityUncertain {
		st.SetQuality(tags.BSWPct, tagstore.QualityUncertain)
	}

	if mean > env.SP.BSWDivertPct {
		st.WriteAny(tags.DivertReason, fmt.Sprintf("BS&W %.2f%%", mean))
	}
	return nil
}

// Mean returns the current rolling mean, or 0 before any sample.
func (b *BSW) Mean() float64 {
	if b.count == 0 {
		return 0
	}
	return b.sum / float64(b.count)
}

// Reset clears the rolling window.
func (b *BSW) Reset() {
	*b = BSW{}
}
