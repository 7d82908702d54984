package models

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationVerification compares the claimed location with one activity ping.
type LocationVerification struct {
	UserProvided  Coordinates `json:"userProvided"`
	ActivityPoint Coordinates `json:"activityPoint"`
	DistanceKm    float64     `json:"distanceKm"` // rounded to 2 decimals
	IsLegitimate  bool        `json:"isLegitimate"`
}

// VerificationReport is embedded in the stored activity log as verificationData.
// It is computed once and never mutated.
type VerificationReport struct {
	UserProvidedLocation  Coordinates            `json:"userProvidedLocation"`
	DistanceThresholdKm   float64                `json:"distanceThresholdKm"`
	LocationVerifications []LocationVerification `json:"locationVerifications"`

	TotalFaceRecognitionCount   int `json:"totalFaceRecognitionCount"`
	FaceRecognitionSuccessCount int `json:"faceRecognitionSuccessCount"`
	FaceRecognitionFailureCount int `json:"faceRecognitionFailureCount"`
	TotalLocationCount          int `json:"totalLocationCount"`
	LocationSuccessCount        int `json:"locationSuccessCount"`

	TotalSuccessCount      int `json:"totalSuccessCount"`
	TotalFailureCount      int `json:"totalFailureCount"`
	TotalVerificationCount int `json:"totalVerificationCount"`

	// LegitimacyPercentage is in [0,100], rounded to 2 decimals. It is 0 when there is nothing to verify.
	LegitimacyPercentage float64 `json:"legitimacyPercentage"`
}
