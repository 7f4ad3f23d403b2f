package track

import (
	"testing"

	"github.com/cargomart/cargomart-go/internal/models"
)

func pt(ts int64, lat, lng float64) models.TrackPoint {
	return models.TrackPoint{TS: ts, Lat: lat, Lng: lng}
}

func assertMonotonic(t *testing.T, points []models.TrackPoint) {
	t.Helper()
	for i := 1; i < len(points); i++ {
		if points[i].TS < points[i-1].TS {
			t.Fatalf("buffer not sorted at %d: %d after %d", i, points[i].TS, points[i-1].TS)
		}
	}
}

func TestBufferInsertKeepsTimestampOrder(t *testing.T) {
	b := newBuffer(10)
	for _, ts := range []int64{50, 10, 30, 20, 40} {
		b.insert(pt(ts, 0, 0))
	}
	points := b.snapshot()
	if len(points) != 5 {
		t.Fatalf("got %d points", len(points))
	}
	assertMonotonic(t, points)
	if points[0].TS != 10 || points[4].TS != 50 {
		t.Fatalf("range [%d..%d], want [10..50]", points[0].TS, points[4].TS)
	}
}

func TestBufferCapDropsOldest(t *testing.T) {
	b := newBuffer(3)
	for ts := int64(1); ts <= 5; ts++ {
		b.insert(pt(ts, 0, 0))
	}
	points := b.snapshot()
	if len(points) != 3 {
		t.Fatalf("got %d points, want cap 3", len(points))
	}
	if points[0].TS != 3 {
		t.Fatalf("oldest surviving point has ts %d, want 3", points[0].TS)
	}
	assertMonotonic(t, points)
}

func TestBufferReplaceSortsAndTrims(t *testing.T) {
	b := newBuffer(3)
	b.insert(pt(999, 0, 0))

	b.replace([]models.TrackPoint{
		pt(4, 0, 0), pt(1, 0, 0), pt(3, 0, 0), pt(2, 0, 0), pt(5, 0, 0),
	})
	points := b.snapshot()
	if len(points) != 3 {
		t.Fatalf("got %d points after replace, want 3", len(points))
	}
	// The batch replaces everything, keeping its newest points.
	if points[0].TS != 3 || points[2].TS != 5 {
		t.Fatalf("range [%d..%d], want [3..5]", points[0].TS, points[2].TS)
	}
	assertMonotonic(t, points)
}

func TestBufferLatest(t *testing.T) {
	b := newBuffer(10)
	if _, ok := b.latest(); ok {
		t.Fatal("latest on empty buffer")
	}
	b.insert(pt(2, 1, 1))
	b.insert(pt(1, 2, 2))
	latest, ok := b.latest()
	if !ok || latest.TS != 2 {
		t.Fatalf("latest = %+v, want ts 2", latest)
	}
}
