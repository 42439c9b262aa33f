package handler

// replayGate decides whether a block being applied is a replay
// (spec.md §4.2 "Replay semantics"). Once a block's number exceeds
// the target, the gate latches open permanently: later blocks are
// never replays again, even if a later block number were somehow
// re-applied below the target.
type replayGate struct {
	target uint64
	live   bool
}

func newReplayGate(maxReplayTarget uint64) *replayGate {
	return &replayGate{target: maxReplayTarget}
}

// isReplay reports whether blockNumber should be treated as a replay
// and latches the gate open the first time a block exceeds the target.
func (g *replayGate) isReplay(blockNumber uint64) bool {
	if g.live {
		return false
	}
	if blockNumber > g.target {
		g.live = true
		return false
	}
	return true
}
