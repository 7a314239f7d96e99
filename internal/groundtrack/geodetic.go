package groundtrack

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const (
	deg = math.Pi / 180
	rad = 180 / math.Pi
)

// Site is a fixed ground location in both geodetic and ECEF frames.
// ECEF coordinates are precomputed once so they can be reused across many
// look-angle evaluations.
type Site struct {
	LatRad, LonRad, AltM float64 // geodetic (radians, meters above ellipsoid)
	ECEF                 [3]float64
}

// NewSite creates a Site from geodetic coordinates in degrees and meters
// above the WGS-84 ellipsoid.
func NewSite(latDeg, lonDeg, altM float64) Site {
	lat, lon := latDeg*deg, lonDeg*deg
	return Site{
		LatRad: lat,
		LonRad: lon,
		AltM:   altM,
		ECEF:   GeodeticToECEF(latDeg, lonDeg, altM),
	}
}

// GeodeticToECEF converts WGS-84 geodetic coordinates to ECEF meters.
func GeodeticToECEF(latDeg, lonDeg, altM float64) [3]float64 {
	sinLat, cosLat := math.Sincos(latDeg * deg)
	sinLon, cosLon := math.Sincos(lonDeg * deg)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return [3]float64{
		(n + altM) * cosLat * cosLon,
		(n + altM) * cosLat * sinLon,
		(n*(1-wgs84E2) + altM) * sinLat,
	}
}

// LookAngles holds azimuth, elevation and slant range from a site to a
// target.
type LookAngles struct {
	AzimuthDeg   float64 `json:"azimuth_deg"`   // 0 = North, clockwise
	ElevationDeg float64 `json:"elevation_deg"` // 0 = horizon, 90 = zenith
	RangeKm      float64 `json:"range_km"`
}

// Look computes the look angles from s to a target given in ECEF meters,
// rotating the range vector into the South-East-Zenith frame.
func (s Site) Look(target [3]float64) LookAngles {
	rx := target[0] - s.ECEF[0]
	ry := target[1] - s.ECEF[1]
	rz := target[2] - s.ECEF[2]

	sinLat, cosLat := math.Sincos(s.LatRad)
	sinLon, cosLon := math.Sincos(s.LonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	r := math.Sqrt(south*south + east*east + zenith*zenith)
	if r == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	// In SEZ, North = -South.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * rad,
		ElevationDeg: math.Asin(zenith/r) * rad,
		RangeKm:      r / 1000,
	}
}
