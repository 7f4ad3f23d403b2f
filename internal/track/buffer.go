package track

import (
	"sort"

	"github.com/cargomart/cargomart-go/internal/models"
)

// buffer holds a session's GPS points sorted by timestamp ascending,
// bounded at cap. When full, the oldest point is dropped so memory stays
// flat over a multi-day haul.
type buffer struct {
	cap    int
	points []models.TrackPoint
}

func newBuffer(capacity int) *buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &buffer{cap: capacity}
}

// replace swaps the whole buffer for a batch, sorted and trimmed to cap.
// The newest points win when the batch is larger than the buffer.
func (b *buffer) replace(points []models.TrackPoint) {
	sorted := make([]models.TrackPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })
	if len(sorted) > b.cap {
		sorted = sorted[len(sorted)-b.cap:]
	}
	b.points = sorted
}

// insert places one point at its timestamp position. Out-of-order arrivals
// land where they belong instead of at the end.
func (b *buffer) insert(p models.TrackPoint) {
	i := sort.Search(len(b.points), func(i int) bool { return b.points[i].TS > p.TS })
	b.points = append(b.points, models.TrackPoint{})
	copy(b.points[i+1:], b.points[i:])
	b.points[i] = p
	if len(b.points) > b.cap {
		b.points = b.points[1:]
	}
}

// snapshot returns a copy of the current points.
func (b *buffer) snapshot() []models.TrackPoint {
	out := make([]models.TrackPoint, len(b.points))
	copy(out, b.points)
	return out
}

// latest returns the most recent point, or false for an empty buffer.
func (b *buffer) latest() (models.TrackPoint, bool) {
	if len(b.points) == 0 {
		return models.TrackPoint{}, false
	}
	return b.points[len(b.points)-1], true
}
