// Package groundtrack places a trajectory on the rotating Earth.
//
// The integrator flies over a non-rotating sphere, so each sample is a
// central angle along the launch azimuth plus an altitude. The great circle
// is fixed in the inertial frame at the launch epoch and the Earth turns
// beneath it: at sample time t the inertial position is rotated into ECEF
// by the Greenwich sidereal angle at epoch+t. Latitude and longitude are
// read off the sphere and treated as WGS-84 geodetic coordinates when
// computing station geometry.
package groundtrack

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/stageflight/internal/trajectory"
)

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// Launch places the trajectory on the globe.
type Launch struct {
	LatDeg     float64   `json:"lat_deg"`
	LonDeg     float64   `json:"lon_deg"`
	AzimuthDeg float64   `json:"azimuth_deg"` // 0 = North, clockwise
	Epoch      time.Time `json:"epoch"`       // launch time (UTC)
}

// Validate checks the launch site and azimuth.
func (l Launch) Validate() error {
	switch {
	case !(l.LatDeg >= -90 && l.LatDeg <= 90):
		return fmt.Errorf("%w: launch latitude %g outside [-90, 90]", trajectory.ErrInvalidInput, l.LatDeg)
	case !(l.LonDeg >= -180 && l.LonDeg <= 360):
		return fmt.Errorf("%w: launch longitude %g outside [-180, 360]", trajectory.ErrInvalidInput, l.LonDeg)
	case math.IsNaN(l.AzimuthDeg) || math.IsInf(l.AzimuthDeg, 0):
		return fmt.Errorf("%w: launch azimuth must be finite", trajectory.ErrInvalidInput)
	case l.Epoch.IsZero():
		return fmt.Errorf("%w: launch epoch is required", trajectory.ErrInvalidInput)
	}
	return nil
}

// Point is one trajectory sample on the rotating Earth.
type Point struct {
	Time    float64    `json:"time"`     // s since launch
	Epoch   time.Time  `json:"epoch"`    // UTC
	LatDeg  float64    `json:"lat_deg"`  // [-90, 90]
	LonDeg  float64    `json:"lon_deg"`  // (-180, 180]
	AltM    float64    `json:"alt_m"`    // integrator altitude
	RangeKm float64    `json:"range_km"` // along the great circle
	ECEF    [3]float64 `json:"-"`        // meters
}

// placement is a launch fixed in the inertial frame.
type placement struct {
	site    mgl64.Vec3 // unit vector to the launch site
	heading mgl64.Vec3 // unit vector along the launch azimuth
	gmst0   float64    // sidereal angle at Epoch
	epoch   time.Time
}

func newPlacement(l Launch) (placement, error) {
	if err := l.Validate(); err != nil {
		return placement{}, err
	}

	epoch := l.Epoch.UTC()
	whole := epoch.Truncate(time.Second)
	gmst0 := satellite.GSTimeFromDate(
		whole.Year(), int(whole.Month()), whole.Day(),
		whole.Hour(), whole.Minute(), whole.Second(),
	) + OmegaEarth*epoch.Sub(whole).Seconds()

	sinLat, cosLat := math.Sincos(l.LatDeg * deg)
	sinLon, cosLon := math.Sincos(l.LonDeg * deg)
	sinAz, cosAz := math.Sincos(l.AzimuthDeg * deg)

	up := mgl64.Vec3{cosLat * cosLon, cosLat * sinLon, sinLat}
	east := mgl64.Vec3{-sinLon, cosLon, 0}
	north := up.Cross(east)
	heading := north.Mul(cosAz).Add(east.Mul(sinAz))

	// ECEF at the epoch to inertial.
	toInertial := mgl64.Rotate3DZ(gmst0)

	return placement{
		site:    toInertial.Mul3x1(up),
		heading: toInertial.Mul3x1(heading).Normalize(),
		gmst0:   gmst0,
		epoch:   epoch,
	}, nil
}

func (p placement) point(s trajectory.State) Point {
	sinPsi, cosPsi := math.Sincos(s.Psi)
	dir := p.site.Mul(cosPsi).Add(p.heading.Mul(sinPsi))
	pos := dir.Mul(trajectory.EarthRadius + s.Altitude)

	ecef := satellite.ECIToECEF(satellite.Vector3{X: pos[0], Y: pos[1], Z: pos[2]}, p.gmst0+OmegaEarth*s.Time)
	lat := math.Atan2(ecef.Z, math.Hypot(ecef.X, ecef.Y)) * rad
	lon := math.Atan2(ecef.Y, ecef.X) * rad

	return Point{
		Time:    s.Time,
		Epoch:   p.epoch.Add(time.Duration(s.Time * float64(time.Second))),
		LatDeg:  lat,
		LonDeg:  lon,
		AltM:    s.Altitude,
		RangeKm: s.Range() / 1000,
		ECEF:    GeodeticToECEF(lat, lon, s.Altitude),
	}
}

// Placer places samples one at a time, for callers that observe a run as
// it is integrated.
type Placer struct {
	p placement
}

// NewPlacer validates l and fixes its great circle in the inertial frame.
func NewPlacer(l Launch) (*Placer, error) {
	p, err := newPlacement(l)
	if err != nil {
		return nil, err
	}
	return &Placer{p: p}, nil
}

// Place returns s on the rotating Earth.
func (pl *Placer) Place(s trajectory.State) Point {
	return pl.p.point(s)
}

// Track places every state of a run. every > 1 keeps only every Nth
// sample; the final sample is always kept.
func Track(states []trajectory.State, l Launch, every int) ([]Point, error) {
	p, err := newPlacement(l)
	if err != nil {
		return nil, err
	}
	if every < 1 {
		every = 1
	}

	points := make([]Point, 0, len(states)/every+1)
	for i, s := range states {
		if i%every != 0 && i != len(states)-1 {
			continue
		}
		points = append(points, p.point(s))
	}
	return points, nil
}

// ImpactPoint places the final state of res.
func ImpactPoint(res *trajectory.Result, l Launch) (Point, error) {
	p, err := newPlacement(l)
	if err != nil {
		return Point{}, err
	}
	if res == nil || len(res.States) == 0 {
		return Point{}, fmt.Errorf("%w: result has no samples", trajectory.ErrInvalidInput)
	}
	return p.point(res.Final()), nil
}
