package services

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/repomanager"
)

const (
	RecordedByUser   = "user"
	RecordedByDoctor = "doctor"
	RecordedByDevice = "device"

	SourceManual = "manual"
	SourceDevice = "device"
	SourceImport = "import"

	maxNotesLength = 1000
)

var (
	recordedByValues = []string{RecordedByUser, RecordedByDoctor, RecordedByDevice}
	sourceValues     = []string{SourceManual, SourceDevice, SourceImport}
)

// HealthMetricInput is one submitted vitals reading. Nil fields were not
// measured.
type HealthMetricInput struct {
	SystolicBP         *int
	DiastolicBP        *int
	HeartRate          *int
	Temperature        *float64
	OxygenSaturation   *float64
	FastingGlucose     *float64
	RandomGlucose      *float64
	HbA1c              *float64
	WeightKg           *float64
	HeightCm           *float64
	WaistCircumference *float64
	HipCircumference   *float64
	Notes              *string
	Symptoms           []string
	MedicationsTaken   []string
	RecordedBy         string
	Source             string
}

func checkIntRange(verr *common.ValidationError, v *int, field string, min, max int, message string) {
	if v != nil && (*v < min || *v > max) {
		verr.Add(field, message)
	}
}

func (in *HealthMetricInput) validate() (*models.HealthMetric, error) {
	var verr common.ValidationError

	checkIntRange(&verr, in.SystolicBP, "systolicBp", 50, 300, "Systolic blood pressure must be between 50 and 300 mmHg")
	checkIntRange(&verr, in.DiastolicBP, "diastolicBp", 30, 200, "Diastolic blood pressure must be between 30 and 200 mmHg")
	checkIntRange(&verr, in.HeartRate, "heartRate", 20, 250, "Heart rate must be between 20 and 250 bpm")
	checkRange(&verr, in.Temperature, floatRange{"temperature", 30, 45, "Temperature must be between 30 and 45 °C"})
	checkRange(&verr, in.OxygenSaturation, floatRange{"oxygenSaturation", 50, 100, "Oxygen saturation must be between 50 and 100 %"})
	checkRange(&verr, in.FastingGlucose, floatRange{"fastingGlucose", 20, 600, "Fasting glucose must be between 20 and 600 mg/dL"})
	checkRange(&verr, in.RandomGlucose, floatRange{"randomGlucose", 20, 600, "Random glucose must be between 20 and 600 mg/dL"})
	checkRange(&verr, in.HbA1c, floatRange{"hba1c", 2, 20, "HbA1c must be between 2 and 20 %"})
	checkRange(&verr, in.WeightKg, floatRange{"weight", 10, 500, "Weight must be between 10 and 500 kg"})
	checkRange(&verr, in.HeightCm, floatRange{"height", 50, 300, "Height must be between 50 and 300 cm"})
	checkRange(&verr, in.WaistCircumference, floatRange{"waistCircumference", 20, 300, "Waist circumference must be between 20 and 300 cm"})
	checkRange(&verr, in.HipCircumference, floatRange{"hipCircumference", 20, 300, "Hip circumference must be between 20 and 300 cm"})

	m := &models.HealthMetric{
		SystolicBP: in.SystolicBP, DiastolicBP: in.DiastolicBP, HeartRate: in.HeartRate,
		Temperature: in.Temperature, OxygenSaturation: in.OxygenSaturation,
		FastingGlucose: in.FastingGlucose, RandomGlucose: in.RandomGlucose, HbA1c: in.HbA1c,
		WeightKg: in.WeightKg, HeightCm: in.HeightCm,
		WaistCircumference: in.WaistCircumference, HipCircumference: in.HipCircumference,
		Notes:            nonEmpty(in.Notes),
		Symptoms:         in.Symptoms,
		MedicationsTaken: in.MedicationsTaken,
		RecordedBy:       strings.TrimSpace(in.RecordedBy),
		Source:           strings.TrimSpace(in.Source),
	}
	if m.Notes != nil && len([]rune(*m.Notes)) > maxNotesLength {
		verr.Add("notes", "Notes must be at most 1000 characters")
	}
	if m.RecordedBy == "" {
		m.RecordedBy = RecordedByUser
	} else if !slices.Contains(recordedByValues, m.RecordedBy) {
		verr.Add("recordedBy", "Recorded by must be user, doctor, or device")
	}
	if m.Source == "" {
		m.Source = SourceManual
	} else if !slices.Contains(sourceValues, m.Source) {
		verr.Add("source", "Source must be manual, device, or import")
	}
	if !m.HasMeasurement() {
		verr.Add("metrics", "At least one measurement is required")
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

type HealthMetricsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
	now         func() time.Time
}

func NewHealthMetricsService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *HealthMetricsService {
	return &HealthMetricsService{db: db, repomanager: m, logger: l.With("module", "health_metrics"), now: time.Now}
}

// Record validates and stores one reading for userID.
func (s *HealthMetricsService) Record(ctx context.Context, userID string, in HealthMetricInput) (*models.HealthMetric, error) {
	m, err := in.validate()
	if err != nil {
		return nil, err
	}
	m.UserID = userID
	m.RecordedAt = s.now().UTC()

	m, err = s.repomanager.HealthMetrics(s.db).Create(ctx, m)
	if err != nil {
		s.logger.Error(ctx, "storing health metrics failed", "user_id", userID, "error", err)
		return nil, common.ErrInternal
	}
	s.logger.Info(ctx, "health metrics recorded", "user_id", userID, "metrics_id", m.ID)
	return m, nil
}

// List returns a page of userID's readings, most recent first.
func (s *HealthMetricsService) List(ctx context.Context, userID string, limit, offset int) ([]*models.HealthMetric, int, error) {
	limit, offset = ClampPage(limit, offset)
	items, total, err := s.repomanager.HealthMetrics(s.db).ListByUser(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error(ctx, "listing health metrics failed", "user_id", userID, "error", err)
		return nil, 0, common.ErrInternal
	}
	return items, total, nil
}
