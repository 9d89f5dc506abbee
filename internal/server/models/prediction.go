package models

import "time"

// PredictionInput is the health-metrics feature vector submitted by a caller.
type PredictionInput struct {
	Age                      float64  `json:"age"`
	Glucose                  float64  `json:"glucose"`
	BloodPressure            float64  `json:"bloodPressure"`
	SkinThickness            *float64 `json:"skinThickness,omitempty"`
	Insulin                  *float64 `json:"insulin,omitempty"`
	BMI                      float64  `json:"bmi"`
	DiabetesPedigreeFunction *float64 `json:"diabetesPedigreeFunction,omitempty"`
	Pregnancies              *int     `json:"pregnancies,omitempty"`
}

// Prediction is a persisted prediction result. UserID is nil for anonymous
// callers.
type Prediction struct {
	ID     string  `json:"id"`
	UserID *string `json:"userId,omitempty"`
	PredictionInput
	Result       int       `json:"prediction"`
	Probability  float64   `json:"probability"`
	Confidence   float64   `json:"confidence"`
	RiskLevel    string    `json:"riskLevel"`
	ModelVersion string    `json:"modelVersion"`
	IPAddress    string    `json:"-"`
	UserAgent    string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PredictionStats summarises a user's prediction history.
type PredictionStats struct {
	Total              int        `json:"totalPredictions"`
	AverageProbability float64    `json:"averageProbability"`
	LastPredictionAt   *time.Time `json:"lastPrediction,omitempty"`
	LowRisk            int        `json:"lowRiskCount"`
	ModerateRisk       int        `json:"moderateRiskCount"`
	HighRisk           int        `json:"highRiskCount"`
}

// TrendPoint aggregates one day of a user's predictions.
type TrendPoint struct {
	Date             time.Time `json:"date"`
	Count            int       `json:"predictionCount"`
	AvgProbability   float64   `json:"avgProbability"`
	AvgBMI           float64   `json:"avgBmi"`
	AvgGlucose       float64   `json:"avgGlucose"`
	AvgBloodPressure float64   `json:"avgBloodPressure"`
}

// GlobalPredictionStats summarises predictions across all callers.
type GlobalPredictionStats struct {
	Total              int        `json:"totalPredictions"`
	UniqueUsers        int        `json:"uniqueUsers"`
	AverageProbability float64    `json:"averageProbability"`
	LowRisk            int        `json:"lowRiskCount"`
	ModerateRisk       int        `json:"moderateRiskCount"`
	HighRisk           int        `json:"highRiskCount"`
	LastPredictionAt   *time.Time `json:"lastPrediction,omitempty"`
}

// RecentPrediction is the anonymised view of a prediction shown in global
// statistics.
type RecentPrediction struct {
	ID          string    `json:"id"`
	RiskLevel   string    `json:"riskLevel"`
	Probability float64   `json:"probability"`
	CreatedAt   time.Time `json:"predictedAt"`
}
