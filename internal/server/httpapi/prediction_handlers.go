package httpapi

import (
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/server/mlclient"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/services"
	"github.com/gorilla/mux"
)

type predictRequest struct {
	Age                      *float64 `json:"age"`
	Glucose                  *float64 `json:"glucose"`
	BloodPressure            *float64 `json:"bloodPressure"`
	BMI                      *float64 `json:"bmi"`
	SkinThickness            *float64 `json:"skinThickness"`
	Insulin                  *float64 `json:"insulin"`
	DiabetesPedigreeFunction *float64 `json:"diabetesPedigreeFunction"`
	Pregnancies              *int     `json:"pregnancies"`
}

type predictionResponse struct {
	*models.Prediction
	Message         string   `json:"message"`
	Recommendations []string `json:"recommendations"`
}

type historyResponse struct {
	Predictions []*models.Prediction `json:"predictions"`
	Total       int                  `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

func required(verr *common.ValidationError, field string, v *float64) float64 {
	if v == nil {
		verr.Add(field, field+" is required")
		return 0
	}
	return *v
}

func (req *predictRequest) input() (models.PredictionInput, error) {
	var verr common.ValidationError
	in := models.PredictionInput{
		Age:                      required(&verr, "age", req.Age),
		Glucose:                  required(&verr, "glucose", req.Glucose),
		BloodPressure:            required(&verr, "bloodPressure", req.BloodPressure),
		BMI:                      required(&verr, "bmi", req.BMI),
		SkinThickness:            req.SkinThickness,
		Insulin:                  req.Insulin,
		DiabetesPedigreeFunction: req.DiabetesPedigreeFunction,
		Pregnancies:              req.Pregnancies,
	}
	return in, verr.Err()
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var userID *string
	if id, ok := IdentityFrom(r.Context()); ok {
		userID = &id.User.ID
	}

	res, err := s.predictions.Predict(r.Context(), userID, in, clientInfo(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, predictionResponse{
		Prediction:      res.Prediction,
		Message:         res.Message,
		Recommendations: res.Recommendations,
	})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, verr *common.ValidationError, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		verr.Add(name, name+" must be a non-negative integer")
		return 0
	}
	return n
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	var verr common.ValidationError
	limit := queryInt(r, &verr, "limit")
	offset := queryInt(r, &verr, "offset")
	if err := verr.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}

	items, total, err := s.predictions.History(r.Context(), caller(r).User.ID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Prediction{}
	}

	limit, offset = services.ClampPage(limit, offset)
	writeJSON(w, http.StatusOK, historyResponse{Predictions: items, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) getPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := s.predictions.Get(r.Context(), caller(r).User.ID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePrediction(w http.ResponseWriter, r *http.Request) {
	if err := s.predictions.Delete(r.Context(), caller(r).User.ID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Prediction deleted successfully"})
}

func (s *Server) modelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.predictions.Info())
}

type batchRequest struct {
	Predictions []predictRequest `json:"predictions"`
}

type batchItemResponse struct {
	Index        int                 `json:"index"`
	Success      bool                `json:"success"`
	Error        string              `json:"error,omitempty"`
	Details      []common.FieldError `json:"details,omitempty"`
	PredictionID string              `json:"predictionId,omitempty"`
	Result       *predictionResponse `json:"result,omitempty"`
}

type batchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type batchResponse struct {
	Results []batchItemResponse `json:"results"`
	Summary batchSummary        `json:"summary"`
}

type globalStatsResponse struct {
	Global *models.GlobalPredictionStats `json:"global"`
	Recent []models.RecentPrediction     `json:"recent"`
}

func failedItem(index int, err error) batchItemResponse {
	_, body, _ := describeError(err)
	return batchItemResponse{Index: index, Error: body.Message, Details: body.Details}
}

func (s *Server) batchPredict(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := services.CheckBatchSize(len(req.Predictions)); err != nil {
		s.writeError(w, r, err)
		return
	}

	var userID *string
	if id, ok := IdentityFrom(r.Context()); ok {
		userID = &id.User.ID
	}

	results := make([]batchItemResponse, len(req.Predictions))
	inputs := make([]models.PredictionInput, 0, len(req.Predictions))
	positions := make([]int, 0, len(req.Predictions))
	for i := range req.Predictions {
		in, err := req.Predictions[i].input()
		if err != nil {
			results[i] = failedItem(i, err)
			continue
		}
		inputs = append(inputs, in)
		positions = append(positions, i)
	}

	if len(inputs) > 0 {
		items, err := s.predictions.Batch(r.Context(), userID, inputs, clientInfo(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, it := range items {
			i := positions[it.Index]
			if it.Err != nil {
				results[i] = failedItem(i, it.Err)
				continue
			}
			results[i] = batchItemResponse{
				Index:        i,
				Success:      true,
				PredictionID: it.Result.ID,
				Result: &predictionResponse{
					Prediction:      it.Result.Prediction,
					Message:         it.Result.Message,
					Recommendations: it.Result.Recommendations,
				},
			}
		}
	}

	summary := batchSummary{Total: len(results)}
	for _, res := range results {
		if res.Success {
			summary.Successful++
		}
	}
	summary.Failed = summary.Total - summary.Successful
	writeJSON(w, http.StatusOK, batchResponse{Results: results, Summary: summary})
}

func (s *Server) modelHealth(w http.ResponseWriter, r *http.Request) {
	h := s.predictions.ModelHealth(r.Context())
	status := http.StatusOK
	if h.Status != mlclient.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) globalStats(w http.ResponseWriter, r *http.Request) {
	st, recent, err := s.predictions.GlobalStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recent == nil {
		recent = []models.RecentPrediction{}
	}
	writeJSON(w, http.StatusOK, globalStatsResponse{Global: st, Recent: recent})
}
