package ratelimit

import "time"

// ring counts events across fixed-duration slots covering a trailing window
// of len(slots)*slotDur. Counting on read and bumping on write are both O(n)
// over a small, fixed slot count, so checks never touch storage.
type ring struct {
	slotSec int64
	starts  []int64
	counts  []int
}

func newRing(slots int, slotDur time.Duration) *ring {
	return &ring{
		slotSec: int64(slotDur / time.Second),
		starts:  make([]int64, slots),
		counts:  make([]int, slots),
	}
}

func (r *ring) windowSec() int64 {
	return r.slotSec * int64(len(r.starts))
}

func (r *ring) slot(ts int64) (int, int64) {
	start := ts - ts%r.slotSec
	idx := int((ts / r.slotSec) % int64(len(r.starts)))
	return idx, start
}

// add records one event at the given instant, reclaiming the slot if it still
// holds counts from a previous lap around the ring.
func (r *ring) add(now time.Time) {
	idx, start := r.slot(now.Unix())
	if r.starts[idx] != start {
		r.starts[idx] = start
		r.counts[idx] = 0
	}
	r.counts[idx]++
}

// count sums events whose slot begins inside the trailing window.
func (r *ring) count(now time.Time) int {
	cutoff := now.Unix() - r.windowSec()
	total := 0
	for i := range r.starts {
		if r.starts[i] > cutoff {
			total += r.counts[i]
		}
	}
	return total
}

// resetAt returns when the oldest counted slot falls out of the window, i.e.
// the earliest instant at which headroom can reappear.
func (r *ring) resetAt(now time.Time) time.Time {
	cutoff := now.Unix() - r.windowSec()
	var oldest int64
	for i := range r.starts {
		if r.counts[i] > 0 && r.starts[i] > cutoff {
			if oldest == 0 || r.starts[i] < oldest {
				oldest = r.starts[i]
			}
		}
	}
	if oldest == 0 {
		return now
	}
	return time.Unix(oldest+r.windowSec(), 0)
}
