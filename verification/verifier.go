package verification

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"contribapp/models"
)

// DefaultThresholdKm is the maximum distance between the claimed location and an
// activity ping for the ping to count as legitimate.
const DefaultThresholdKm = 0.1

// Verifier scores an activity log against the location the user claims.
// It is stateless; one value can be shared by all submissions.
type Verifier struct {
	ThresholdKm float64
}

func NewVerifier(thresholdKm float64) *Verifier {
	if thresholdKm <= 0 {
		thresholdKm = DefaultThresholdKm
	}
	return &Verifier{ThresholdKm: thresholdKm}
}

// Verify parses rawLog, computes the verification report and returns the parsed log
// with the report attached as VerificationData.
func (v *Verifier) Verify(rawLog string, claimed models.Coordinates) (*models.ActivityLog, error) {
	var log models.ActivityLog
	if err := json.Unmarshal([]byte(rawLog), &log); err != nil {
		return nil, malformed(err)
	}
	if log.FaceRecognitionData == nil {
		return nil, malformed(errors.New("faceRecognitionData is missing"))
	}
	if log.LocationData == nil {
		return nil, malformed(errors.New("locationData is missing"))
	}
	log.VerificationData = v.Report(log.FaceRecognitionData, log.LocationData, claimed)
	return &log, nil
}

// Report computes the verification report. It is deterministic and does no I/O.
func (v *Verifier) Report(faces []models.FaceRecognition, points []models.LocationPoint, claimed models.Coordinates) *models.VerificationReport {
	report := &models.VerificationReport{
		UserProvidedLocation:      claimed,
		DistanceThresholdKm:       v.ThresholdKm,
		LocationVerifications:     make([]models.LocationVerification, 0, len(points)),
		TotalFaceRecognitionCount: len(faces),
		TotalLocationCount:        len(points),
	}

	for _, f := range faces {
		if f.Succeeded() {
			report.FaceRecognitionSuccessCount++
		}
	}
	report.FaceRecognitionFailureCount = report.TotalFaceRecognitionCount - report.FaceRecognitionSuccessCount

	for _, p := range points {
		point := p.Coordinates()
		distance := Haversine(claimed, point)
		legitimate := distance <= v.ThresholdKm
		if legitimate {
			report.LocationSuccessCount++
		}
		report.LocationVerifications = append(report.LocationVerifications, models.LocationVerification{
			UserProvided:  claimed,
			ActivityPoint: point,
			DistanceKm:    round2(distance),
			IsLegitimate:  legitimate,
		})
	}

	report.TotalSuccessCount = report.FaceRecognitionSuccessCount + report.LocationSuccessCount
	report.TotalFailureCount = report.FaceRecognitionFailureCount + (report.TotalLocationCount - report.LocationSuccessCount)
	report.TotalVerificationCount = report.TotalSuccessCount + report.TotalFailureCount
	report.LegitimacyPercentage = percentage(report.TotalSuccessCount, report.TotalVerificationCount)
	return report
}

// percentage returns 100*part/total rounded to 2 decimals, or 0 when total is 0.
func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	p, _ := decimal.NewFromInt(int64(part) * 100).
		DivRound(decimal.NewFromInt(int64(total)), 2).
		Float64()
	return p
}

func round2(v float64) float64 {
	r, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return r
}

func malformed(err error) error {
	return models.NewMalformedInput("activityLog", fmt.Errorf("%w: %v", models.ErrMalformedActivityLog, err))
}
