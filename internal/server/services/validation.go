package services

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
	"github.com/dmitrijs2005/diacheck/internal/server/auth"
	"github.com/dmitrijs2005/diacheck/internal/server/models"
)

// RegisterInput is the account data submitted at registration.
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Phone       *string
	DateOfBirth *string
	Gender      *string
}

// ProfileInput carries a partial profile update. Nil or empty strings leave
// the stored value unchanged.
type ProfileInput struct {
	FirstName         *string
	LastName          *string
	Phone             *string
	DateOfBirth       *string
	Gender            *string
	HeightCm          *float64
	WeightKg          *float64
	BloodType         *string
	MedicalConditions []string
	Medications       []string
	Allergies         []string
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (in *RegisterInput) validate() (*models.NewUser, error) {
	var verr common.ValidationError

	email := auth.NormalizeEmail(in.Email)
	if !auth.ValidEmail(email) {
		verr.Add("email", "Please provide a valid email address")
	}
	if msg := auth.PasswordProblem(in.Password); msg != "" {
		verr.Add("password", msg)
	}
	if !auth.ValidName(in.FirstName) {
		verr.Add("firstName", "First name must be between 2 and 50 characters")
	}
	if !auth.ValidName(in.LastName) {
		verr.Add("lastName", "Last name must be between 2 and 50 characters")
	}

	nu := &models.NewUser{
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	nu.Phone, nu.DateOfBirth, nu.Gender = validateOptional(&verr, in.Phone, in.DateOfBirth, in.Gender)

	if err := verr.Err(); err != nil {
		return nil, err
	}
	return nu, nil
}

func (in *ProfileInput) validate() (*models.UserUpdate, *models.HealthProfile, error) {
	var verr common.ValidationError
	upd := &models.UserUpdate{}

	if v := nonEmpty(in.FirstName); v != nil {
		if !auth.ValidName(*v) {
			verr.Add("firstName", "First name must be between 2 and 50 characters")
		}
		upd.FirstName = v
	}
	if v := nonEmpty(in.LastName); v != nil {
		if !auth.ValidName(*v) {
			verr.Add("lastName", "Last name must be between 2 and 50 characters")
		}
		upd.LastName = v
	}
	upd.Phone, upd.DateOfBirth, upd.Gender = validateOptional(&verr, in.Phone, in.DateOfBirth, in.Gender)

	health := &models.HealthProfile{
		HeightCm:          in.HeightCm,
		WeightKg:          in.WeightKg,
		BloodType:         nonEmpty(in.BloodType),
		MedicalConditions: in.MedicalConditions,
		Medications:       in.Medications,
		Allergies:         in.Allergies,
	}
	if h := in.HeightCm; h != nil && (*h < 50 || *h > 300) {
		verr.Add("height", "Height must be between 50 and 300 cm")
	}
	if w := in.WeightKg; w != nil && (*w < 10 || *w > 500) {
		verr.Add("weight", "Weight must be between 10 and 500 kg")
	}

	if err := verr.Err(); err != nil {
		return nil, nil, err
	}
	return upd, health, nil
}

func validateOptional(verr *common.ValidationError, phone, dob, gender *string) (*string, *time.Time, *string) {
	var outPhone, outGender *string
	var outDOB *time.Time

	if v := nonEmpty(phone); v != nil {
		if !auth.ValidPhone(*v) {
			verr.Add("phone", "Please provide a valid phone number")
		}
		outPhone = v
	}
	if v := nonEmpty(dob); v != nil {
		if d, ok := auth.ParseDate(*v); ok {
			outDOB = &d
		} else {
			verr.Add("dateOfBirth", "Please provide a valid date of birth")
		}
	}
	if v := nonEmpty(gender); v != nil {
		if !auth.ValidGender(*v) {
			verr.Add("gender", "Gender must be male, female, or other")
		}
		outGender = v
	}
	return outPhone, outDOB, outGender
}

type floatRange struct {
	field    string
	min, max float64
	message  string
}

func checkRange(verr *common.ValidationError, v *float64, r floatRange) {
	if v != nil && (*v < r.min || *v > r.max) {
		verr.Add(r.field, r.message)
	}
}

func validatePrediction(in *models.PredictionInput) error {
	var verr common.ValidationError

	checkRange(&verr, &in.Age, floatRange{"age", 1, 120, "Age must be between 1 and 120"})
	checkRange(&verr, &in.Glucose, floatRange{"glucose", 0, 300, "Glucose level must be between 0 and 300 mg/dL"})
	checkRange(&verr, &in.BloodPressure, floatRange{"bloodPressure", 0, 250, "Blood pressure must be between 0 and 250 mmHg"})
	checkRange(&verr, in.SkinThickness, floatRange{"skinThickness", 0, 100, "Skin thickness must be between 0 and 100 mm"})
	checkRange(&verr, in.Insulin, floatRange{"insulin", 0, 1000, "Insulin level must be between 0 and 1000 mu U/ml"})
	checkRange(&verr, &in.BMI, floatRange{"bmi", 10, 70, "BMI must be between 10 and 70"})
	checkRange(&verr, in.DiabetesPedigreeFunction, floatRange{"diabetesPedigreeFunction", 0, 2.5, "Diabetes pedigree function must be between 0.0 and 2.5"})
	if p := in.Pregnancies; p != nil && (*p < 0 || *p > 20) {
		verr.Add("pregnancies", "Number of pregnancies must be between 0 and 20")
	}

	return verr.Err()
}
