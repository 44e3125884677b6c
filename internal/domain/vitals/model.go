package vitals

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

type RecordType string

const (
	RecordRoutine   RecordType = "routine"
	RecordEmergency RecordType = "emergency"
	RecordFollowUp  RecordType = "follow_up"
)

// HealthRecord is one vitals observation. Every vital is optional; a nil
// field was not measured. Records are immutable except for AnomalyProcessed.
type HealthRecord struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	RecordedAt       time.Time  `json:"recorded_at"`
	SystolicBP       *int       `json:"systolic_bp,omitempty"`
	DiastolicBP      *int       `json:"diastolic_bp,omitempty"`
	HeartRate        *int       `json:"heart_rate,omitempty"`
	Temperature      *float64   `json:"temperature,omitempty"` // °F
	RespiratoryRate  *int       `json:"respiratory_rate,omitempty"`
	OxygenSaturation *float64   `json:"oxygen_saturation,omitempty"`
	BloodSugar       *float64   `json:"blood_sugar,omitempty"` // mg/dL
	RecordType       RecordType `json:"record_type"`
	Notes            string     `json:"notes,omitempty"`
	AnomalyProcessed bool       `json:"anomaly_processed"`
	CreatedAt        time.Time  `json:"created_at"`
}

func intAbove(v *int, limit int) bool { return v != nil && *v > limit }
func intBelow(v *int, limit int) bool { return v != nil && *v < limit }

func floatAbove(v *float64, limit float64) bool { return v != nil && *v > limit }
func floatBelow(v *float64, limit float64) bool { return v != nil && *v < limit }

// IsCritical reports whether any measured vital is outside the critical band.
// The band is wider than the individual alert rules.
func (r *HealthRecord) IsCritical() bool {
	return intAbove(r.SystolicBP, 180) || intBelow(r.SystolicBP, 90) ||
		intAbove(r.DiastolicBP, 120) || intBelow(r.DiastolicBP, 60) ||
		intAbove(r.HeartRate, 120) || intBelow(r.HeartRate, 50) ||
		floatAbove(r.Temperature, 103) || floatBelow(r.Temperature, 95) ||
		floatBelow(r.OxygenSaturation, 90) ||
		floatAbove(r.BloodSugar, 400) || floatBelow(r.BloodSugar, 70)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BloodPressure formats the reading as "S/D". Empty unless both are measured.
func (r *HealthRecord) BloodPressure() string {
	if r.SystolicBP == nil || r.DiastolicBP == nil {
		return ""
	}
	return fmt.Sprintf("%d/%d", *r.SystolicBP, *r.DiastolicBP)
}

// summaryKeys fixes the order vitals are listed in.
var summaryKeys = []string{"blood_pressure", "heart_rate", "temperature", "oxygen_saturation", "blood_sugar"}

// Summary returns the measured vitals formatted with their units.
func (r *HealthRecord) Summary() map[string]string {
	out := make(map[string]string)
	if bp := r.BloodPressure(); bp != "" {
		out["blood_pressure"] = bp
	}
	if r.HeartRate != nil {
		out["heart_rate"] = fmt.Sprintf("%d bpm", *r.HeartRate)
	}
	if r.Temperature != nil {
		out["temperature"] = formatFloat(*r.Temperature) + "°F"
	}
	if r.OxygenSaturation != nil {
		out["oxygen_saturation"] = formatFloat(*r.OxygenSaturation) + "%"
	}
	if r.BloodSugar != nil {
		out["blood_sugar"] = formatFloat(*r.BloodSugar) + " mg/dL"
	}
	return out
}

// SummaryText renders Summary as "key: value" pairs in a stable order.
func (r *HealthRecord) SummaryText() string {
	s := r.Summary()
	parts := make([]string, 0, len(s))
	for _, k := range summaryKeys {
		if v, ok := s[k]; ok {
			parts = append(parts, k+": "+v)
		}
	}
	return strings.Join(parts, ", ")
}

// HealthScore rates the measured vitals from 0 to 100. Unmeasured vitals do
// not lower the score.
func (r *HealthRecord) HealthScore() int {
	score := 100

	switch {
	case intAbove(r.SystolicBP, 140) || intBelow(r.SystolicBP, 90):
		score -= 15
	case intAbove(r.SystolicBP, 130) || intBelow(r.SystolicBP, 100):
		score -= 10
	}

	switch {
	case intAbove(r.HeartRate, 100) || intBelow(r.HeartRate, 60):
		score -= 10
	case intAbove(r.HeartRate, 90) || intBelow(r.HeartRate, 65):
		score -= 5
	}

	if floatAbove(r.Temperature, 100.4) || floatBelow(r.Temperature, 97) {
		score -= 10
	}

	switch {
	case floatBelow(r.OxygenSaturation, 95):
		score -= 15
	case floatBelow(r.OxygenSaturation, 98):
		score -= 5
	}

	switch {
	case floatAbove(r.BloodSugar, 200) || floatBelow(r.BloodSugar, 80):
		score -= 15
	case floatAbove(r.BloodSugar, 140) || floatBelow(r.BloodSugar, 90):
		score -= 10
	}

	if score < 0 {
		return 0
	}
	return score
}

func (r *HealthRecord) hasVitals() bool {
	return r.SystolicBP != nil || r.DiastolicBP != nil || r.HeartRate != nil ||
		r.Temperature != nil || r.RespiratoryRate != nil || r.OxygenSaturation != nil ||
		r.BloodSugar != nil
}

// Validate rejects empty records and readings that cannot be physiological.
func (r *HealthRecord) Validate() error {
	if !r.hasVitals() {
		return apperr.Validation("vitals", "at least one vital sign is required")
	}
	switch r.RecordType {
	case RecordRoutine, RecordEmergency, RecordFollowUp:
	default:
		return apperr.Validation("record_type", "unknown record type %q", r.RecordType)
	}
	if r.SystolicBP != nil && r.DiastolicBP != nil && *r.DiastolicBP >= *r.SystolicBP {
		return apperr.Validation("diastolic_bp", "must be lower than systolic_bp")
	}
	return nil
}
