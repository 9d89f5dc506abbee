package models

import "time"

// HealthMetric is one vitals reading recorded by or for a user. Every
// measurement is optional; a reading carries at least one of them.
type HealthMetric struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"-"`
	SystolicBP         *int      `json:"systolicBp,omitempty"`
	DiastolicBP        *int      `json:"diastolicBp,omitempty"`
	HeartRate          *int      `json:"heartRate,omitempty"`
	Temperature        *float64  `json:"temperature,omitempty"`
	OxygenSaturation   *float64  `json:"oxygenSaturation,omitempty"`
	FastingGlucose     *float64  `json:"fastingGlucose,omitempty"`
	RandomGlucose      *float64  `json:"randomGlucose,omitempty"`
	HbA1c              *float64  `json:"hba1c,omitempty"`
	WeightKg           *float64  `json:"weight,omitempty"`
	HeightCm           *float64  `json:"height,omitempty"`
	WaistCircumference *float64  `json:"waistCircumference,omitempty"`
	HipCircumference   *float64  `json:"hipCircumference,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	Symptoms           []string  `json:"symptoms,omitempty"`
	MedicationsTaken   []string  `json:"medicationsTaken,omitempty"`
	RecordedBy         string    `json:"recordedBy"`
	Source             string    `json:"source"`
	RecordedAt         time.Time `json:"recordedAt"`
	CreatedAt          time.Time `json:"createdAt"`
}

// HasMeasurement reports whether at least one vital is set.
func (m *HealthMetric) HasMeasurement() bool {
	return m.SystolicBP != nil || m.DiastolicBP != nil || m.HeartRate != nil ||
		m.Temperature != nil || m.OxygenSaturation != nil || m.FastingGlucose != nil ||
		m.RandomGlucose != nil || m.HbA1c != nil || m.WeightKg != nil || m.HeightCm != nil ||
		m.WaistCircumference != nil || m.HipCircumference != nil
}

// HealthMetricsSummary aggregates a user's readings over a period. Averages
// are nil when no reading in the period carried the value.
type HealthMetricsSummary struct {
	Records           int        `json:"totalRecords"`
	AvgWeight         *float64   `json:"avgWeight,omitempty"`
	AvgSystolicBP     *float64   `json:"avgSystolicBp,omitempty"`
	AvgDiastolicBP    *float64   `json:"avgDiastolicBp,omitempty"`
	AvgFastingGlucose *float64   `json:"avgFastingGlucose,omitempty"`
	LastRecordedAt    *time.Time `json:"lastRecorded,omitempty"`
}
