package geo

import (
	"math"
	"testing"
)

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{-12.0464, -77.0428, -12.0453, -77.0311}, // Lima centro
		{0, 0, 0, 0.001},
		{51.5, -0.12, 48.85, 2.35}, // London–Paris
		{-90, 0, 90, 0},
	}
	for _, p := range pairs {
		ab := DistanceMeters(p[0], p[1], p[2], p[3])
		ba := DistanceMeters(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("distance not symmetric: %v vs %v", ab, ba)
		}
	}
}

func TestDistanceIdentity(t *testing.T) {
	if d := DistanceMeters(-12.0464, -77.0428, -12.0464, -77.0428); d != 0 {
		t.Errorf("expected 0 for identical points, got %v", d)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km.
	d := DistanceMeters(0, 0, 0, 1)
	if d < 111000 || d > 111500 {
		t.Errorf("expected ~111195 m, got %v", d)
	}
}

func TestDistanceShortRange(t *testing.T) {
	// ~0.0001 degrees latitude is ~11.1 m; this is the scale the
	// proximity tracker operates at.
	d := DistanceMeters(-12.0464, -77.0428, -12.0463, -77.0428)
	if d < 10 || d > 13 {
		t.Errorf("expected ~11 m, got %v", d)
	}
}

func TestNaNPropagates(t *testing.T) {
	if d := DistanceMeters(math.NaN(), 0, 0, 0); !math.IsNaN(d) {
		t.Errorf("expected NaN to propagate, got %v", d)
	}
}

func TestCoordinatesValid(t *testing.T) {
	if !(Coordinates{Lat: -12, Lng: -77}).Valid() {
		t.Error("finite coordinates reported invalid")
	}
	if (Coordinates{Lat: math.NaN(), Lng: -77}).Valid() {
		t.Error("NaN latitude reported valid")
	}
	if (Coordinates{Lat: 0, Lng: math.Inf(1)}).Valid() {
		t.Error("infinite longitude reported valid")
	}
}
