package shadow

import (
	"shadowdesk/internal/domain"
)

// Metrics are the aggregate per-side numbers every threshold rule is
// evaluated against, recomputed once per tick from the document.
type Metrics struct {
	// MTM sums the mark-to-market of every leg on the side, including
	// legs exited earlier today.
	MTM float64

	// Count is the number of live legs only.
	Count int

	// DaysHigh is the running maximum of MTM seen today, current value
	// included.
	DaysHigh float64

	// StartMTM anchors "has the book moved against us since open": the
	// larger of the first two tracking snapshots. Zero until two
	// snapshots exist.
	StartMTM float64

	// ResetMTM is MTM minus StartMTM. Zero until two snapshots exist.
	ResetMTM float64
}

// Compute derives both sides' metrics from the document's legs and tracking
// history.
func Compute(doc *Doc) (long, short Metrics) {
	for i := range doc.Legs {
		leg := &doc.Legs[i]
		switch leg.Side {
		case domain.SideBuy:
			long.MTM += leg.MTM
			if leg.Live() {
				long.Count++
			}
		case domain.SideSell:
			short.MTM += leg.MTM
			if leg.Live() {
				short.Count++
			}
		}
	}
	long.finish(doc.Long.Tracking)
	short.finish(doc.Short.Tracking)
	return long, short
}

func (m *Metrics) finish(tracking []float64) {
	m.DaysHigh = m.MTM
	for _, v := range tracking {
		if v > m.DaysHigh {
			m.DaysHigh = v
		}
	}
	// The first two snapshots of the day anchor the start MTM; with fewer
	// than two, the anchored values stay zero and the rules that depend on
	// them hold off.
	if len(tracking) >= 2 {
		m.StartMTM = max(tracking[0], tracking[1])
		m.ResetMTM = m.MTM - m.StartMTM
	}
}
