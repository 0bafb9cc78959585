package core

import (
	"math"
	"testing"
)

func TestDistanceKmKnownPair(t *testing.T) {
	// London to Paris is roughly 343 km.
	london := LatLon{Lat: 51.5074, Lon: -0.1278}
	paris := LatLon{Lat: 48.8566, Lon: 2.3522}
	got := london.DistanceKm(paris)
	if math.Abs(got-343.5) > 2 {
		t.Fatalf("DistanceKm = %.2f, want ~343.5", got)
	}
	if back := paris.DistanceKm(london); math.Abs(back-got) > 1e-9 {
		t.Fatalf("DistanceKm not symmetric: %v vs %v", got, back)
	}
}

func TestDistanceMetersSmallOffset(t *testing.T) {
	a := LatLon{Lat: 47.0, Lon: 8.0}
	// 0.0001 deg of latitude is about 11.1 m.
	b := LatLon{Lat: 47.0001, Lon: 8.0}
	got := a.DistanceMeters(b)
	if got < 10.5 || got > 11.7 {
		t.Fatalf("DistanceMeters = %.3f, want ~11.1", got)
	}
	if d := a.DistanceMeters(a); d != 0 {
		t.Fatalf("DistanceMeters to self = %v, want 0", d)
	}
}

func TestLatLonValid(t *testing.T) {
	cases := []struct {
		p    LatLon
		want bool
	}{
		{LatLon{47, 8}, true},
		{LatLon{0, 0}, false},
		{LatLon{91, 0}, false},
		{LatLon{10, -181}, false},
		{LatLon{math.NaN(), 1}, false},
	}
	for _, tc := range cases {
		if got := tc.p.Valid(); got != tc.want {
			t.Fatalf("%v.Valid() = %v, want %v", tc.p, got, tc.want)
		}
	}
}
