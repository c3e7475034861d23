package geo

import (
	"fmt"
	"math"
	"sort"
)

const (
	FeetPerMile   = 5280.0
	FeetPerMeter  = 3.280839895
	MilesPerKm    = 0.621371192
	earthRadiusKm = 6371.0

	// WGS-84 ellipsoid.
	wgs84A = 6378137.0
	wgs84B = 6356752.314245
	wgs84F = 1 / 298.257223563
)

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// GmapsURL returns the Google Maps search URL for the point.
func GmapsURL(p Point) string {
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%v,%v", p.Lat, p.Lon)
}

func MetersToFeet(m float64) float64 {
	return m * FeetPerMeter
}

func FeetToMeters(ft float64) float64 {
	return ft / FeetPerMeter
}

// KphToMinPerMile converts a tracker speed in km/h to a pace in minutes per
// mile. A zero speed yields a zero pace.
func KphToMinPerMile(kph float64) float64 {
	mph := kph / 1.60934
	if mph == 0 {
		return 0
	}
	return 60 / mph
}

// HaversineFeet returns the great-circle distance between two points in feet.
func HaversineFeet(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lon1 := radians(a.Lon)
	lat2 := radians(b.Lat)
	lon2 := radians(b.Lon)
	dlat := lat2 - lat1
	dlon := lon2 - lon1
	h := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return MetersToFeet(earthRadiusKm * c * 1000)
}

// GeodesicFeet returns the WGS-84 ellipsoidal distance between two points in
// feet, using the Vincenty inverse solution.
func GeodesicFeet(a, b Point) float64 {
	return MetersToFeet(vincentyMeters(a, b))
}

// GeodesicMiles returns the WGS-84 ellipsoidal distance in miles.
func GeodesicMiles(a, b Point) float64 {
	return GeodesicFeet(a, b) / FeetPerMile
}

// vincentyMeters solves the inverse geodesic problem on the WGS-84 ellipsoid.
// Falls back to haversine for the rare antipodal non-convergence.
func vincentyMeters(a, b Point) float64 {
	if a == b {
		return 0
	}
	u1 := math.Atan((1 - wgs84F) * math.Tan(radians(a.Lat)))
	u2 := math.Atan((1 - wgs84F) * math.Tan(radians(b.Lat)))
	l := radians(b.Lon - a.Lon)

	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)

	lambda := l
	var sinSigma, cosSigma, sigma, cosSqAlpha, cos2SigmaM float64
	for i := 0; i < 200; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma = math.Sqrt(math.Pow(cosU2*sinLambda, 2) +
			math.Pow(cosU1*sinU2-sinU1*cosU2*cosLambda, 2))
		if sinSigma == 0 {
			return 0
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha
		if cosSqAlpha == 0 {
			cos2SigmaM = 0
		} else {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		}
		c := wgs84F / 16 * cosSqAlpha * (4 + wgs84F*(4-3*cosSqAlpha))
		prev := lambda
		lambda = l + (1-c)*wgs84F*sinAlpha*
			(sigma+c*sinSigma*(cos2SigmaM+c*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < 1e-12 {
			uSq := cosSqAlpha * (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
			bigA := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
			bigB := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
			deltaSigma := bigB * sinSigma * (cos2SigmaM + bigB/4*
				(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
					bigB/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
			return wgs84B * bigA * (sigma - deltaSigma)
		}
	}
	return FeetToMeters(HaversineFeet(a, b))
}

// ConsecutiveRuns splits a set of indices into maximal runs of consecutive
// integers, each run sorted ascending. Used to tell whether route points
// near a location belong to one stretch of the course or several.
func ConsecutiveRuns(indices []int) [][]int {
	if len(indices) == 0 {
		return nil
	}
	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.Ints(sorted)

	var runs [][]int
	run := []int{sorted[0]}
	for _, idx := range sorted[1:] {
		if idx-run[len(run)-1] > 1 {
			runs = append(runs, run)
			run = nil
		}
		run = append(run, idx)
	}
	return append(runs, run)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
