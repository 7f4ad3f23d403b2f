package track

import (
	"math"
	"testing"

	"github.com/cargomart/cargomart-go/internal/config"
	"github.com/cargomart/cargomart-go/internal/models"
)

func testTrackConfig() config.TrackConfig {
	return config.TrackConfig{BufferCap: 1000, PanThresholdM: 300, HeaderPaddingPx: 96}
}

// One degree of latitude is about 111km, so 0.001 deg is about 111m.
const degPerMeterLat = 1.0 / 111_000

func TestHaversineKnownDistance(t *testing.T) {
	// Moscow to Saint Petersburg, about 634km.
	d := Haversine(55.7558, 37.6173, 59.9311, 30.3609)
	if math.Abs(d-634_000) > 10_000 {
		t.Fatalf("distance %.0fm, want ~634km", d)
	}
	if d := Haversine(55, 37, 55, 37); d != 0 {
		t.Fatalf("zero distance = %f", d)
	}
}

func TestViewportFitsFirstBatch(t *testing.T) {
	v := NewViewport(testTrackConfig())

	if d := v.Observe(nil); d.Action != ActionNone {
		t.Fatalf("empty buffer produced %s", d.Action)
	}

	d := v.Observe([]models.TrackPoint{
		pt(1, 55.70, 37.50),
		pt(2, 55.80, 37.70),
	})
	if d.Action != ActionFit {
		t.Fatalf("first batch produced %s, want fit", d.Action)
	}
	if d.Bounds.MinLat != 55.70 || d.Bounds.MaxLat != 55.80 ||
		d.Bounds.MinLng != 37.50 || d.Bounds.MaxLng != 37.70 {
		t.Fatalf("bounds %+v", d.Bounds)
	}
	if d.TopPaddingPx != 96 {
		t.Fatalf("top padding %d, want 96", d.TopPaddingPx)
	}
}

func TestViewportIgnoresSmallDrift(t *testing.T) {
	v := NewViewport(testTrackConfig())
	v.Observe([]models.TrackPoint{pt(1, 55.75, 37.60)})

	// 50m north of center: well inside the 300m threshold.
	near := pt(2, 55.75+50*degPerMeterLat, 37.60)
	d := v.Observe([]models.TrackPoint{pt(1, 55.75, 37.60), near})
	if d.Action != ActionNone {
		t.Fatalf("50m drift produced %s, want none", d.Action)
	}
}

func TestViewportPansOnLargeDrift(t *testing.T) {
	v := NewViewport(testTrackConfig())
	v.Observe([]models.TrackPoint{pt(1, 55.75, 37.60)})

	// 500m north of center: past the threshold, the camera follows.
	far := pt(2, 55.75+500*degPerMeterLat, 37.60)
	d := v.Observe([]models.TrackPoint{pt(1, 55.75, 37.60), far})
	if d.Action != ActionPan {
		t.Fatalf("500m drift produced %s, want pan", d.Action)
	}
	if d.Center.TS != 2 {
		t.Fatalf("pan centered on ts %d, want the latest point", d.Center.TS)
	}

	// After the pan the camera is on the vehicle again; staying put is quiet.
	d = v.Observe([]models.TrackPoint{pt(1, 55.75, 37.60), far, pt(3, far.Lat, far.Lng)})
	if d.Action != ActionNone {
		t.Fatalf("stationary vehicle produced %s after pan", d.Action)
	}
}

func TestViewportNeverRefits(t *testing.T) {
	v := NewViewport(testTrackConfig())
	v.Observe([]models.TrackPoint{pt(1, 55.75, 37.60)})

	// Even a fresh batch replacing the buffer only pans.
	d := v.Observe([]models.TrackPoint{pt(10, 56.75, 38.60)})
	if d.Action == ActionFit {
		t.Fatal("viewport refit after the initial fit")
	}
}
