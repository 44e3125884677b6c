package vitals

import "fmt"

type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert types raised by Evaluate.
const (
	AlertCriticalVitals      = "critical_vitals"
	AlertHypertensiveCrisis  = "hypertensive_crisis"
	AlertSevereHypertension  = "severe_hypertension"
	AlertTachycardia         = "tachycardia"
	AlertBradycardia         = "bradycardia"
	AlertHypoxemia           = "hypoxemia"
	AlertSevereHyperglycemia = "severe_hyperglycemia"
	AlertHypoglycemia        = "hypoglycemia"
)

type Alert struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Evaluate applies the threshold rules to r. Unmeasured vitals are skipped.
// A record already marked processed yields no alerts, so evaluation is safe
// to repeat.
//
// Within one vital the more severe rule wins: a hypertensive crisis is not
// also reported as severe hypertension.
func Evaluate(r *HealthRecord) []Alert {
	if r == nil || r.AnomalyProcessed {
		return nil
	}
	var alerts []Alert

	if r.IsCritical() {
		alerts = append(alerts, Alert{
			Type:     AlertCriticalVitals,
			Message:  "Critical vital signs detected: " + r.SummaryText(),
			Severity: SeverityCritical,
		})
	}

	switch {
	case intAbove(r.SystolicBP, 180) || intAbove(r.DiastolicBP, 120):
		alerts = append(alerts, Alert{
			Type:     AlertHypertensiveCrisis,
			Message:  fmt.Sprintf("Hypertensive crisis detected: %s mmHg", bpReading(r)),
			Severity: SeverityCritical,
		})
	case intAbove(r.SystolicBP, 160) || intAbove(r.DiastolicBP, 100):
		alerts = append(alerts, Alert{
			Type:     AlertSevereHypertension,
			Message:  fmt.Sprintf("Severe hypertension: %s mmHg", bpReading(r)),
			Severity: SeverityHigh,
		})
	}

	switch {
	case intAbove(r.HeartRate, 120):
		alerts = append(alerts, Alert{
			Type:     AlertTachycardia,
			Message:  fmt.Sprintf("Elevated heart rate: %d bpm", *r.HeartRate),
			Severity: SeverityHigh,
		})
	case intBelow(r.HeartRate, 50):
		alerts = append(alerts, Alert{
			Type:     AlertBradycardia,
			Message:  fmt.Sprintf("Low heart rate: %d bpm", *r.HeartRate),
			Severity: SeverityHigh,
		})
	}

	if floatBelow(r.OxygenSaturation, 90) {
		alerts = append(alerts, Alert{
			Type:     AlertHypoxemia,
			Message:  fmt.Sprintf("Low oxygen saturation: %s%%", formatFloat(*r.OxygenSaturation)),
			Severity: SeverityCritical,
		})
	}

	switch {
	case floatAbove(r.BloodSugar, 400):
		alerts = append(alerts, Alert{
			Type:     AlertSevereHyperglycemia,
			Message:  fmt.Sprintf("Severe high blood sugar: %s mg/dL", formatFloat(*r.BloodSugar)),
			Severity: SeverityCritical,
		})
	case floatBelow(r.BloodSugar, 70):
		alerts = append(alerts, Alert{
			Type:     AlertHypoglycemia,
			Message:  fmt.Sprintf("Low blood sugar: %s mg/dL", formatFloat(*r.BloodSugar)),
			Severity: SeverityHigh,
		})
	}

	return alerts
}

// bpReading prints "S/D", or a single labelled component when only one of
// the two was measured.
func bpReading(r *HealthRecord) string {
	if bp := r.BloodPressure(); bp != "" {
		return bp
	}
	if r.SystolicBP != nil {
		return fmt.Sprintf("systolic %d", *r.SystolicBP)
	}
	return fmt.Sprintf("diastolic %d", *r.DiastolicBP)
}
