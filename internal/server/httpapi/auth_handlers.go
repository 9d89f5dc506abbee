package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
	"github.com/dmitrijs2005/diacheck/internal/server/services"
)

type registerRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Phone       *string `json:"phone"`
	DateOfBirth *string `json:"dateOfBirth"`
	Gender      *string `json:"gender"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type profileRequest struct {
	FirstName         *string  `json:"firstName"`
	LastName          *string  `json:"lastName"`
	Phone             *string  `json:"phone"`
	DateOfBirth       *string  `json:"dateOfBirth"`
	Gender            *string  `json:"gender"`
	Height            *float64 `json:"height"`
	Weight            *float64 `json:"weight"`
	BloodType         *string  `json:"bloodType"`
	MedicalConditions []string `json:"medicalConditions"`
	Medications       []string `json:"medications"`
	Allergies         []string `json:"allergies"`
}

type tokensResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
	tokensResponse
}

type meResponse struct {
	User              *models.User            `json:"user"`
	Profile           *models.HealthProfile   `json:"profile"`
	Stats             *models.PredictionStats `json:"stats"`
	ProfilePictureURL string                  `json:"profilePictureUrl,omitempty"`
}

type profileResponse struct {
	Message string                `json:"message"`
	User    *models.User          `json:"user"`
	Profile *models.HealthProfile `json:"profile,omitempty"`
}

type uploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent"

func toTokens(p *services.TokenPair) tokensResponse {
	return tokensResponse{Token: p.AccessToken, RefreshToken: p.RefreshToken, ExpiresAt: p.ExpiresAt}
}

// outcome labels an auth event for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, common.ErrValidation):
		return "invalid_input"
	case errors.Is(err, common.ErrAccountLocked):
		return "locked"
	case errors.Is(err, common.ErrInternal):
		return "error"
	default:
		return "rejected"
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.users.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
	}, clientInfo(r))
	s.metrics.AuthEvent("register", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Message:        "User registered successfully",
		User:           res.User,
		tokensResponse: toTokens(res.Tokens),
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.users.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	s.metrics.AuthEvent("login", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Message:        "Login successful",
		User:           res.User,
		tokensResponse: toTokens(res.Tokens),
	})
}

// logout needs a bearer token with a valid signature but not a live session,
// so repeating it succeeds.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token, present, err := bearerToken(r)
	if !present {
		err = common.ErrUnauthorized
	}
	if err == nil {
		err = s.users.Logout(r.Context(), token)
	}
	s.metrics.AuthEvent("logout", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Logout successful"})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pair, err := s.users.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	s.metrics.AuthEvent("refresh", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokens(pair))
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.users.RequestPasswordReset(r.Context(), req.Email)
	s.metrics.AuthEvent("forgot_password", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: forgotPasswordMessage})
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.users.ResetPassword(r.Context(), req.Token, req.Password)
	s.metrics.AuthEvent("reset_password", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password reset successful"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	acc, err := s.users.Me(r.Context(), caller(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:              acc.User,
		Profile:           acc.Profile,
		Stats:             acc.Stats,
		ProfilePictureURL: acc.ProfilePictureURL,
	})
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, profile, err := s.users.UpdateProfile(r.Context(), caller(r).User.ID, services.ProfileInput{
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Phone:             req.Phone,
		DateOfBirth:       req.DateOfBirth,
		Gender:            req.Gender,
		HeightCm:          req.Height,
		WeightKg:          req.Weight,
		BloodType:         req.BloodType,
		MedicalConditions: req.MedicalConditions,
		Medications:       req.Medications,
		Allergies:         req.Allergies,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Message: "Profile updated successfully", User: user, Profile: profile})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.users.ChangePassword(r.Context(), caller(r).User.ID, req.CurrentPassword, req.NewPassword)
	s.metrics.AuthEvent("change_password", outcome(err))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password changed successfully"})
}

func (s *Server) profilePicture(w http.ResponseWriter, r *http.Request) {
	key, url, err := s.users.ProfilePictureUploadURL(r.Context(), caller(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{UploadURL: url, Key: key})
}
