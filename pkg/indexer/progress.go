package indexer

import (
	"time"
)

// progress tracks sync throughput for the lifetime of the process. The first
// observed tip is the baseline against which tip growth is measured.
type progress struct {
	now func() time.Time

	hasBaseline  bool
	baselineTip  uint64
	baselineTime time.Time

	syncedBlocks uint64
	// Time spent in finished passes.
	syncedTime time.Duration
}

func newProgress() *progress {
	return &progress{now: time.Now}
}

type passProgress struct {
	p      *progress
	start  time.Time
	tip    uint64
	target uint64

	tipCost      float64
	tipCostKnown bool

	transactions uint64
}

type report struct {
	Tip             uint64
	Height          uint64
	TipCost         time.Duration
	TipCostKnown    bool
	BlocksPerSecond float64
	ETA             time.Duration
	Transactions    uint64
}

// beginPass starts timing a pass toward target. The tip cost is measured
// against the baseline before the baseline is set, so it stays unknown on
// the first pass.
func (p *progress) beginPass(tip, target uint64) *passProgress {
	now := p.now()

	pass := &passProgress{p: p, start: now, tip: tip, target: target}

	if p.hasBaseline && tip > p.baselineTip {
		pass.tipCost = float64(now.Sub(p.baselineTime).Milliseconds()) / float64(tip-p.baselineTip)
		pass.tipCostKnown = true
	}

	if !p.hasBaseline {
		p.hasBaseline = true
		p.baselineTip = tip
		p.baselineTime = now
	}

	return pass
}

func (pp *passProgress) blockApplied(transactions int) {
	pp.p.syncedBlocks++
	pp.transactions += uint64(transactions)
}

func (pp *passProgress) report(height uint64) report {
	elapsed := pp.p.syncedTime + pp.p.now().Sub(pp.start)
	elapsedMillis := float64(elapsed.Milliseconds())

	r := report{
		Tip:          pp.tip,
		Height:       height,
		TipCost:      time.Duration(pp.tipCost * float64(time.Millisecond)),
		TipCostKnown: pp.tipCostKnown,
		Transactions: pp.transactions,
	}

	if pp.p.syncedBlocks == 0 {
		return r
	}

	syncCost := elapsedMillis / float64(pp.p.syncedBlocks)
	if elapsedMillis > 0 {
		r.BlocksPerSecond = float64(pp.p.syncedBlocks) * 1000 / elapsedMillis
	}

	var remaining uint64
	if pp.tip > pp.target {
		remaining = pp.tip - pp.target
	}

	r.ETA = time.Duration(estimateMillis(remaining, syncCost, pp.tipCost, pp.tipCostKnown) * float64(time.Millisecond))
	pp.transactions = 0

	return r
}

func (pp *passProgress) finish() {
	pp.p.syncedTime += pp.p.now().Sub(pp.start)
}

// estimateMillis returns the time to close a gap of remaining blocks. When
// the tip grows slower than blocks are applied, the tip keeps receding while
// the gap closes, which is a geometric series summing to the pursuit term.
func estimateMillis(remaining uint64, syncCost, tipCost float64, tipCostKnown bool) float64 {
	r := float64(remaining)

	if tipCostKnown && tipCost > syncCost {
		return r * syncCost * tipCost / (tipCost - syncCost)
	}

	return r * syncCost
}
