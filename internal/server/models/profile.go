package models

import "time"

// HealthProfile is optional medical background kept alongside a user.
type HealthProfile struct {
	UserID            string    `json:"-"`
	HeightCm          *float64  `json:"height,omitempty"`
	WeightKg          *float64  `json:"weight,omitempty"`
	BloodType         *string   `json:"bloodType,omitempty"`
	MedicalConditions []string  `json:"medicalConditions,omitempty"`
	Medications       []string  `json:"medications,omitempty"`
	Allergies         []string  `json:"allergies,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Empty reports whether no health field is set.
func (p *HealthProfile) Empty() bool {
	return p.HeightCm == nil && p.WeightKg == nil && p.BloodType == nil &&
		p.MedicalConditions == nil && p.Medications == nil && p.Allergies == nil
}
