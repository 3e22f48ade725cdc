package footprint

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// MaxRadiusKM caps the search radius to keep dataset queries bounded.
const MaxRadiusKM = 10.0

// Query is one validated count/map request.
type Query struct {
	Lat      float64 `json:"latitude"`
	Lon      float64 `json:"longitude"`
	RadiusKM float64 `json:"radius_km"`

	// Zoom overrides the auto-derived zoom when > 0.
	Zoom int `json:"zoom,omitempty"`
}

// Center returns the query center as an orb point (lon/lat order).
func (q Query) Center() orb.Point {
	return orb.Point{q.Lon, q.Lat}
}

// RadiusMeters returns the search radius in meters.
func (q Query) RadiusMeters() float64 {
	return q.RadiusKM * 1000
}

// Validate checks parameter ranges. Errors are ValidationErrors and must be
// surfaced to the caller before any downstream work happens.
func (q Query) Validate() error {
	if q.Lat < -90 || q.Lat > 90 {
		return Invalidf("latitude %v out of range [-90, 90]", q.Lat)
	}
	if q.Lon < -180 || q.Lon > 180 {
		return Invalidf("longitude %v out of range [-180, 180]", q.Lon)
	}
	if q.RadiusKM <= 0 {
		return Invalidf("radius_km must be > 0, got %v", q.RadiusKM)
	}
	if q.RadiusKM > MaxRadiusKM {
		return Invalidf("radius_km %v exceeds maximum %v", q.RadiusKM, MaxRadiusKM)
	}
	if q.Zoom != 0 && (q.Zoom < 10 || q.Zoom > 18) {
		return Invalidf("zoom %d out of range [10, 18]", q.Zoom)
	}
	return nil
}

// ValidationError marks a bad request parameter.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Invalidf builds a ValidationError with a formatted message.
func Invalidf(format string, args ...any) error {
	return &ValidationError{msg: eris.Errorf(format, args...).Error()}
}

// IsValidation reports whether err is a parameter validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return eris.As(err, &ve)
}

// SourceError wraps a dataset query failure, tagged with its source so the
// compare path can report per-source failures without suppressing the other.
type SourceError struct {
	Src Source
	Err error
}

func (e *SourceError) Error() string {
	return string(e.Src) + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error { return e.Err }
