package verification

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"

	"contribapp/models"
)

const locationField = "location"

// ParseClaimedLocation parses a user supplied "lat,long" string.
func ParseClaimedLocation(s string) (models.Coordinates, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Coordinates{}, models.NewMalformedInput(locationField, fmt.Errorf("expected \"lat,long\", got %q", s))
	}
	lat, err := parseCoordinate(parts[0])
	if err != nil {
		return models.Coordinates{}, models.NewMalformedInput(locationField, fmt.Errorf("latitude: %w", err))
	}
	lon, err := parseCoordinate(parts[1])
	if err != nil {
		return models.Coordinates{}, models.NewMalformedInput(locationField, fmt.Errorf("longitude: %w", err))
	}
	if !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return models.Coordinates{}, models.NewMalformedInput(locationField, fmt.Errorf("%v,%v is out of range", lat, lon))
	}
	return models.Coordinates{Latitude: lat, Longitude: lon}, nil
}

func parseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return v, nil
}
