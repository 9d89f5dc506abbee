package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/logging"
	"github.com/dmitrijs2005/diacheck/internal/server/mlclient"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	ModelVersion = "1.0.0"

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100

	MaxBatchSize = 10
	globalRecent = 5
)

// Predictor is the external model.
type Predictor interface {
	Predict(ctx context.Context, in mlclient.Request) (*mlclient.Response, error)
	Health(ctx context.Context) mlclient.Health
}

// PredictionResult is a stored prediction plus advice derived from it.
type PredictionResult struct {
	*models.Prediction
	Message         string
	Recommendations []string
}

// ModelInfo describes the model behind the prediction endpoint.
type ModelInfo struct {
	Name     string         `json:"modelName"`
	Version  string         `json:"version"`
	Features []ModelFeature `json:"features"`
}

type ModelFeature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Range       string `json:"range"`
	Required    bool   `json:"required"`
}

type PredictionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	predictor   Predictor
	logger      logging.Logger
}

func NewPredictionService(db *sql.DB, m repomanager.RepositoryManager, p Predictor, l logging.Logger) *PredictionService {
	return &PredictionService{db: db, repomanager: m, predictor: p, logger: l.With("module", "predictions")}
}

// RiskLevel maps a probability to its tier.
func RiskLevel(p float64) string {
	switch {
	case p >= 0.7:
		return common.RiskHigh
	case p >= 0.3:
		return common.RiskModerate
	default:
		return common.RiskLow
	}
}

// Confidence is the probability of the predicted class.
func Confidence(p float64) float64 {
	if p > 0.5 {
		return p
	}
	return 1 - p
}

// Predict validates in, asks the model and stores the result. userID is nil
// for anonymous callers. Nothing is stored when the model is unavailable.
func (s *PredictionService) Predict(ctx context.Context, userID *string, in models.PredictionInput, client models.DeviceInfo) (*PredictionResult, error) {
	if err := validatePrediction(&in); err != nil {
		return nil, err
	}

	req := mlclient.Request{Age: in.Age, BMI: in.BMI, Glucose: in.Glucose, BloodPressure: in.BloodPressure}
	if in.Insulin != nil {
		req.Insulin = *in.Insulin
	}

	out, err := s.predictor.Predict(ctx, req)
	if err != nil {
		if mlclient.IsUnavailable(err) {
			s.logger.Warn(ctx, "prediction service unavailable", "error", err)
			return nil, common.ErrPredictionUnavailable
		}
		s.logger.Error(ctx, "prediction service call failed", "error", err)
		return nil, common.ErrInternal
	}

	p := &models.Prediction{
		UserID:          userID,
		PredictionInput: in,
		Result:          out.Prediction,
		Probability:     out.Probability,
		Confidence:      Confidence(out.Probability),
		RiskLevel:       RiskLevel(out.Probability),
		ModelVersion:    ModelVersion,
		IPAddress:       client.IP,
		UserAgent:       client.UserAgent,
	}

	p, err = s.repomanager.Predictions(s.db).Create(ctx, p)
	if err != nil {
		s.logger.Error(ctx, "storing prediction failed", "error", err)
		return nil, common.ErrInternal
	}

	s.logger.Info(ctx, "prediction completed", "prediction_id", p.ID, "risk_level", p.RiskLevel, "anonymous", userID == nil)

	msg, recs := recommendations(p)
	return &PredictionResult{Prediction: p, Message: msg, Recommendations: recs}, nil
}

// BatchItem is the outcome of one entry of a batch. Exactly one of Result
// and Err is set.
type BatchItem struct {
	Index  int
	Result *PredictionResult
	Err    error
}

// CheckBatchSize rejects empty and oversized batches.
func CheckBatchSize(n int) error {
	var verr common.ValidationError
	switch {
	case n == 0:
		verr.Add("predictions", "Predictions array is required and must not be empty")
	case n > MaxBatchSize:
		verr.Add("predictions", "Maximum 10 predictions per batch request")
	}
	return verr.Err()
}

// Batch runs Predict for every input in order. A failing entry does not stop
// the rest; its error is reported in its BatchItem.
func (s *PredictionService) Batch(ctx context.Context, userID *string, inputs []models.PredictionInput, client models.DeviceInfo) ([]BatchItem, error) {
	if err := CheckBatchSize(len(inputs)); err != nil {
		return nil, err
	}

	items := make([]BatchItem, len(inputs))
	failed := 0
	for i, in := range inputs {
		items[i].Index = i
		items[i].Result, items[i].Err = s.Predict(ctx, userID, in, client)
		if items[i].Err != nil {
			failed++
		}
	}

	s.logger.Info(ctx, "batch prediction completed", "total", len(items), "failed", failed, "anonymous", userID == nil)
	return items, nil
}

// ModelHealth reports whether the model service is reachable.
func (s *PredictionService) ModelHealth(ctx context.Context) mlclient.Health {
	h := s.predictor.Health(ctx)
	if h.Status != mlclient.StatusHealthy {
		s.logger.Warn(ctx, "model service unhealthy", "error", h.Error)
	}
	return h
}

// GlobalStats summarises all stored predictions and lists the latest few
// without their owners.
func (s *PredictionService) GlobalStats(ctx context.Context) (*models.GlobalPredictionStats, []models.RecentPrediction, error) {
	repo := s.repomanager.Predictions(s.db)
	st, err := repo.GlobalStats(ctx)
	if err != nil {
		s.logger.Error(ctx, "global prediction stats failed", "error", err)
		return nil, nil, common.ErrInternal
	}
	recent, err := repo.Recent(ctx, globalRecent)
	if err != nil {
		s.logger.Error(ctx, "recent predictions failed", "error", err)
		return nil, nil, common.ErrInternal
	}
	return st, recent, nil
}

// ClampPage applies the default and maximum page size.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// History returns a page of userID's predictions, newest first.
func (s *PredictionService) History(ctx context.Context, userID string, limit, offset int) ([]*models.Prediction, int, error) {
	limit, offset = ClampPage(limit, offset)
	items, total, err := s.repomanager.Predictions(s.db).ListByUser(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error(ctx, "listing predictions failed", "user_id", userID, "error", err)
		return nil, 0, common.ErrInternal
	}
	return items, total, nil
}

// Get returns one of userID's predictions.
func (s *PredictionService) Get(ctx context.Context, userID, id string) (*models.Prediction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrNotFound
	}
	p, err := s.repomanager.Predictions(s.db).FindByID(ctx, id, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		s.logger.Error(ctx, "loading prediction failed", "user_id", userID, "error", err)
		return nil, common.ErrInternal
	}
	return p, nil
}

// Delete removes one of userID's predictions.
func (s *PredictionService) Delete(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrNotFound
	}
	if err := s.repomanager.Predictions(s.db).Delete(ctx, id, userID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		s.logger.Error(ctx, "deleting prediction failed", "user_id", userID, "error", err)
		return common.ErrInternal
	}
	return nil
}

// Info describes the model and its inputs.
func (s *PredictionService) Info() ModelInfo {
	return ModelInfo{
		Name:    "Random Forest Classifier",
		Version: ModelVersion,
		Features: []ModelFeature{
			{"age", "Age in years", "1-120", true},
			{"glucose", "Plasma glucose concentration (mg/dL)", "0-300", true},
			{"bloodPressure", "Diastolic blood pressure (mmHg)", "0-250", true},
			{"bmi", "Body mass index", "10-70", true},
			{"insulin", "2-hour serum insulin (mu U/ml)", "0-1000", false},
			{"skinThickness", "Triceps skin fold thickness (mm)", "0-100", false},
			{"diabetesPedigreeFunction", "Diabetes pedigree function", "0.0-2.5", false},
			{"pregnancies", "Number of pregnancies", "0-20", false},
		},
	}
}

func recommendations(p *models.Prediction) (string, []string) {
	var msg string
	var recs []string

	switch p.RiskLevel {
	case common.RiskHigh:
		msg = "High risk of diabetes detected. Immediate consultation with a healthcare provider is recommended."
		recs = []string{
			"Schedule an appointment with your healthcare provider",
			"Get comprehensive diabetes screening tests",
			"Monitor blood glucose levels daily",
		}
	case common.RiskModerate:
		msg = "Moderate risk of diabetes detected. Consider lifestyle changes and consult a healthcare provider."
		recs = []string{
			"Consult a healthcare provider for personalised advice",
			"Increase physical activity to at least 200 minutes per week",
			"Monitor blood glucose levels regularly",
		}
	default:
		msg = "Low risk of diabetes detected. Keep up a healthy lifestyle."
		recs = []string{
			"Maintain a balanced diet with plenty of vegetables and whole grains",
			"Stay active for at least 150 minutes per week",
		}
	}

	if p.BMI >= 25 {
		recs = append(recs, "Your BMI is above the healthy range, consider a weight management plan")
	}
	if p.Glucose >= 126 {
		recs = append(recs, "Your glucose is high, limit sugar and simple carbohydrates")
	}
	if p.BloodPressure >= 140 {
		recs = append(recs, "Your blood pressure is high, reduce salt intake")
	}
	if p.Age >= 45 {
		recs = append(recs, "Age is a risk factor, have a check-up every 6 months")
	}
	return msg, recs
}
