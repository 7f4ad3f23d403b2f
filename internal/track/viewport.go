package track

import (
	"math"

	"github.com/cargomart/cargomart-go/internal/config"
	"github.com/cargomart/cargomart-go/internal/models"
)

// Action tells the map layer what to do with the camera.
type Action string

const (
	// ActionNone leaves the camera alone; the vehicle is still near center.
	ActionNone Action = "none"
	// ActionFit frames the whole route once, when the first points arrive.
	ActionFit Action = "fit"
	// ActionPan recenters on the vehicle without changing zoom.
	ActionPan Action = "pan"
)

// Bounds is a lat/lng bounding box.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// Decision is one camera instruction. Bounds is set for fit, Center for
// pan. TopPaddingPx reserves room under the floating header so the fitted
// route is not hidden behind it; the other edges get no extra padding.
type Decision struct {
	Action       Action
	Bounds       Bounds
	Center       models.TrackPoint
	TopPaddingPx int
}

// Viewport decides camera moves for a tracking map. The first non-empty
// batch fits the full route; afterwards the camera only pans, and only when
// the vehicle has drifted far enough from center that it matters.
type Viewport struct {
	panThresholdM   float64
	headerPaddingPx int

	fitted    bool
	centerLat float64
	centerLng float64
}

// NewViewport creates a viewport with the configured pan threshold and
// header padding.
func NewViewport(cfg config.TrackConfig) *Viewport {
	return &Viewport{
		panThresholdM:   cfg.PanThresholdM,
		headerPaddingPx: cfg.HeaderPaddingPx,
	}
}

// Observe inspects the current buffer and returns the camera decision.
func (v *Viewport) Observe(points []models.TrackPoint) Decision {
	if len(points) == 0 {
		return Decision{Action: ActionNone}
	}

	if !v.fitted {
		b := boundsOf(points)
		v.fitted = true
		v.centerLat = (b.MinLat + b.MaxLat) / 2
		v.centerLng = (b.MinLng + b.MaxLng) / 2
		return Decision{Action: ActionFit, Bounds: b, TopPaddingPx: v.headerPaddingPx}
	}

	latest := points[len(points)-1]
	if Haversine(v.centerLat, v.centerLng, latest.Lat, latest.Lng) <= v.panThresholdM {
		return Decision{Action: ActionNone}
	}
	v.centerLat = latest.Lat
	v.centerLng = latest.Lng
	return Decision{Action: ActionPan, Center: latest}
}

func boundsOf(points []models.TrackPoint) Bounds {
	b := Bounds{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLng: points[0].Lng, MaxLng: points[0].Lng,
	}
	for _, p := range points[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
	}
	return b
}

const earthRadiusM = 6_371_000

// Haversine returns the great-circle distance in meters between two
// lat/lng pairs.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
