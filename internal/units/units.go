// Package units provides shared constants and conversion for length units.
package units

// Unit constants. Point clouds and rasters are stored in meters; these
// are the display units exports and reports may request.
const (
	Meters = "m"
	Feet   = "ft"
	// USFeet is the US survey foot, still common in older cadastral data.
	USFeet = "usft"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Meters, Feet, USFeet}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "m, ft, usft"
}

// ConvertLength converts a length from meters to the target units.
// Stored elevations and cell sizes are always meters.
func ConvertLength(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Meters:
		return meters
	case Feet:
		return meters / 0.3048
	case USFeet:
		return meters / (1200.0 / 3937.0)
	default:
		return meters // default to meters if unknown unit
	}
}

// ConvertArea converts an area from square meters to the target units squared.
func ConvertArea(squareMeters float64, targetUnits string) float64 {
	f := ConvertLength(1, targetUnits)
	return squareMeters * f * f
}

// ConvertDensity converts a point density from points per square meter to
// points per square target unit.
func ConvertDensity(perSquareMeter float64, targetUnits string) float64 {
	area := ConvertArea(1, targetUnits)
	if area == 0 {
		return perSquareMeter
	}
	return perSquareMeter / area
}
