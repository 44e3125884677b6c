package medication

import (
	"strings"

	"github.com/google/uuid"
)

// Interaction flags a known risky combination with another medication.
type Interaction struct {
	MedicationID uuid.UUID `json:"medication_id"`
	Medication   string    `json:"medication"`
	Severity     string    `json:"severity"`
	Description  string    `json:"description"`
}

type interactionRule struct {
	a, b        string
	severity    string
	description string
}

// knownInteractions is matched by substring on lower-cased names. It is a
// screening aid, not a drug interaction database.
var knownInteractions = []interactionRule{
	{"warfarin", "aspirin", "high", "Increased bleeding risk"},
	{"warfarin", "ibuprofen", "high", "Increased bleeding risk"},
	{"sildenafil", "nitroglycerin", "high", "Severe hypotension"},
	{"lisinopril", "potassium", "medium", "Risk of hyperkalemia"},
}

// CheckInteractions returns the interactions between m and the other
// medications, ignoring m itself and medications that are no longer taken.
func (m *Medication) CheckInteractions(others []*Medication) []Interaction {
	name := strings.ToLower(m.Name)
	var out []Interaction
	for _, o := range others {
		if o.ID == m.ID || o.Status.Terminal() {
			continue
		}
		other := strings.ToLower(o.Name)
		for _, r := range knownInteractions {
			if (strings.Contains(name, r.a) && strings.Contains(other, r.b)) ||
				(strings.Contains(name, r.b) && strings.Contains(other, r.a)) {
				out = append(out, Interaction{
					MedicationID: o.ID,
					Medication:   o.Name,
					Severity:     r.severity,
					Description:  r.description,
				})
			}
		}
	}
	return out
}
