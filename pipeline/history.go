package pipeline

import (
	"github.com/seqsense/splatclean/cloud"
)

const maxHistoryDefault = 16

// history holds CURRENT and its previous versions. The last element is
// CURRENT itself.
type history struct {
	sets       []*cloud.PointSet
	maxHistory int
}

func newHistory(n int) *history {
	return &history{maxHistory: n}
}

func (h *history) MaxHistory() int {
	return h.maxHistory
}

func (h *history) SetMaxHistory(m int) {
	if m < 0 {
		m = 0
	}
	h.maxHistory = m
	h.trim()
}

func (h *history) push(s *cloud.PointSet) *cloud.PointSet {
	h.sets = append(h.sets, s)
	h.trim()
	return s
}

func (h *history) trim() {
	if over := len(h.sets) - (h.maxHistory + 1); over > 0 {
		for i := 0; i < over; i++ {
			h.sets[i] = nil
		}
		h.sets = h.sets[over:]
	}
}

func (h *history) latest() *cloud.PointSet {
	if len(h.sets) == 0 {
		return nil
	}
	return h.sets[len(h.sets)-1]
}

// undo drops CURRENT and returns the previous version.
func (h *history) undo() (*cloud.PointSet, bool) {
	if n := len(h.sets); n > 1 {
		h.sets[n-1] = nil
		h.sets = h.sets[:n-1]
		return h.sets[n-2], true
	}
	return nil, false
}

func (h *history) clear() {
	h.sets = nil
}

func (h *history) depth() int {
	if len(h.sets) == 0 {
		return 0
	}
	return len(h.sets) - 1
}
