package reader

// entry is one accepted (blockNumber, blockHash) pair.
type entry struct {
	number uint64
	hash   string
}

// history is the Reader-local, volatile HistoryWindow: an ordered
// sequence of the last K accepted blocks, used to detect rollbacks and
// compute rollback depth (spec.md §3 "HistoryWindow"). It is owned
// exclusively by the Reader and never exposed outside the package.
type history struct {
	window  []entry
	maxSize int
}

func newHistory(maxSize int) *history {
	if maxSize <= 0 {
		maxSize = 180
	}
	return &history{window: make([]entry, 0, maxSize), maxSize: maxSize}
}

// push appends a newly accepted block, evicting the oldest entry once
// the window exceeds maxSize.
func (h *history) push(number uint64, hash string) {
	h.window = append(h.window, entry{number: number, hash: hash})
	if len(h.window) > h.maxSize {
		h.window = h.window[len(h.window)-h.maxSize:]
	}
}

// truncateAfter drops every entry with number > n, leaving the entry
// at n (if present) as the new tail.
func (h *history) truncateAfter(n uint64) {
	i := len(h.window)
	for i > 0 && h.window[i-1].number > n {
		i--
	}
	h.window = h.window[:i]
}

// reset clears the window entirely (used by seekToBlock).
func (h *history) reset() {
	h.window = h.window[:0]
}

// last returns the most recently pushed entry and whether one exists.
func (h *history) last() (entry, bool) {
	if len(h.window) == 0 {
		return entry{}, false
	}
	return h.window[len(h.window)-1], true
}

// walkBack iterates the window from most recent to oldest, invoking fn
// for each stored entry until fn returns false or the window is
// exhausted.
func (h *history) walkBack(fn func(e entry) bool) {
	for i := len(h.window) - 1; i >= 0; i-- {
		if !fn(h.window[i]) {
			return
		}
	}
}
