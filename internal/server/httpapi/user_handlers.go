package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/services"
)

type dashboardResponse struct {
	meResponse
	RecentPredictions []*models.Prediction `json:"recentPredictions"`
	TrendData         []models.TrendPoint  `json:"trendData"`
}

type statsResponse struct {
	Period        int                          `json:"period"`
	Predictions   *models.PredictionStats      `json:"predictions"`
	Trends        []models.TrendPoint          `json:"trends"`
	HealthMetrics *models.HealthMetricsSummary `json:"healthMetrics"`
}

type healthMetricRequest struct {
	SystolicBP         *int     `json:"systolicBp"`
	DiastolicBP        *int     `json:"diastolicBp"`
	HeartRate          *int     `json:"heartRate"`
	Temperature        *float64 `json:"temperature"`
	OxygenSaturation   *float64 `json:"oxygenSaturation"`
	FastingGlucose     *float64 `json:"fastingGlucose"`
	RandomGlucose      *float64 `json:"randomGlucose"`
	HbA1c              *float64 `json:"hba1c"`
	Weight             *float64 `json:"weight"`
	Height             *float64 `json:"height"`
	WaistCircumference *float64 `json:"waistCircumference"`
	HipCircumference   *float64 `json:"hipCircumference"`
	Notes              *string  `json:"notes"`
	Symptoms           []string `json:"symptoms"`
	MedicationsTaken   []string `json:"medicationsTaken"`
	RecordedBy         string   `json:"recordedBy"`
	Source             string   `json:"source"`
}

type recordedMetricResponse struct {
	Message   string               `json:"message"`
	MetricsID string               `json:"metricsId"`
	Metric    *models.HealthMetric `json:"metric"`
}

type healthMetricsListResponse struct {
	Metrics []*models.HealthMetric `json:"metrics"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.users.Dashboard(r.Context(), caller(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := dashboardResponse{
		meResponse: meResponse{
			User:              d.User,
			Profile:           d.Profile,
			Stats:             d.Stats,
			ProfilePictureURL: d.ProfilePictureURL,
		},
		RecentPredictions: d.RecentPredictions,
		TrendData:         d.Trend,
	}
	if resp.RecentPredictions == nil {
		resp.RecentPredictions = []*models.Prediction{}
	}
	if resp.TrendData == nil {
		resp.TrendData = []models.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) userStats(w http.ResponseWriter, r *http.Request) {
	var verr common.ValidationError
	period := queryInt(r, &verr, "period")
	if err := verr.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}

	st, err := s.users.Stats(r.Context(), caller(r).User.ID, period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trends := st.Trend
	if trends == nil {
		trends = []models.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Period:        st.PeriodDays,
		Predictions:   st.Predictions,
		Trends:        trends,
		HealthMetrics: st.HealthMetrics,
	})
}

func (s *Server) recordHealthMetrics(w http.ResponseWriter, r *http.Request) {
	var req healthMetricRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	m, err := s.healthMetrics.Record(r.Context(), caller(r).User.ID, services.HealthMetricInput{
		SystolicBP:         req.SystolicBP,
		DiastolicBP:        req.DiastolicBP,
		HeartRate:          req.HeartRate,
		Temperature:        req.Temperature,
		OxygenSaturation:   req.OxygenSaturation,
		FastingGlucose:     req.FastingGlucose,
		RandomGlucose:      req.RandomGlucose,
		HbA1c:              req.HbA1c,
		WeightKg:           req.Weight,
		HeightCm:           req.Height,
		WaistCircumference: req.WaistCircumference,
		HipCircumference:   req.HipCircumference,
		Notes:              req.Notes,
		Symptoms:           req.Symptoms,
		MedicationsTaken:   req.MedicationsTaken,
		RecordedBy:         req.RecordedBy,
		Source:             req.Source,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordedMetricResponse{
		Message:   "Health metrics recorded successfully",
		MetricsID: m.ID,
		Metric:    m,
	})
}

func (s *Server) listHealthMetrics(w http.ResponseWriter, r *http.Request) {
	var verr common.ValidationError
	limit := queryInt(r, &verr, "limit")
	offset := queryInt(r, &verr, "offset")
	if err := verr.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}

	items, total, err := s.healthMetrics.List(r.Context(), caller(r).User.ID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.HealthMetric{}
	}

	limit, offset = services.ClampPage(limit, offset)
	writeJSON(w, http.StatusOK, healthMetricsListResponse{Metrics: items, Total: total, Limit: limit, Offset: offset})
}
