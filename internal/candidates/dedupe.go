package candidates

import (
	"strings"

	"github.com/lamim/pairforge/pkg/models"
)

// Deduper remembers pairs already seen, ignoring case and surrounding space
type Deduper struct {
	seen map[string]struct{}
}

// NewDeduper creates an empty Deduper
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Seen reports whether p was seen before and records it
func (d *Deduper) Seen(p models.CandidatePair) bool {
	key := strings.ToLower(strings.TrimSpace(p.Safe)) + "\x00" + strings.ToLower(strings.TrimSpace(p.Harmful))
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}
