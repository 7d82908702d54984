package verification

import (
	geojson "github.com/paulmach/go.geojson"

	"contribapp/models"
)

// FeatureCollection renders a verification report as GeoJSON: the claimed location
// followed by every activity point in report order.
func FeatureCollection(report *models.VerificationReport) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if report == nil {
		return fc
	}

	claimed := geojson.NewPointFeature(lonLat(report.UserProvidedLocation))
	claimed.SetProperty("kind", "claimed")
	claimed.SetProperty("distanceThresholdKm", report.DistanceThresholdKm)
	claimed.SetProperty("legitimacyPercentage", report.LegitimacyPercentage)
	fc.AddFeature(claimed)

	for i, lv := range report.LocationVerifications {
		f := geojson.NewPointFeature(lonLat(lv.ActivityPoint))
		f.SetProperty("kind", "activity")
		f.SetProperty("index", i)
		f.SetProperty("distanceKm", lv.DistanceKm)
		f.SetProperty("isLegitimate", lv.IsLegitimate)
		fc.AddFeature(f)
	}
	return fc
}

// GeoJSON positions are [longitude, latitude].
func lonLat(c models.Coordinates) []float64 {
	return []float64{c.Longitude, c.Latitude}
}
