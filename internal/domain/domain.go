package domain

// Severity classifies how serious a checklist item or finding is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the known severity tiers.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// FindingType tags an observation recorded during an inspection.
// Types outside the known set are scored as plain observations.
type FindingType string

const (
	FindingNonConformance FindingType = "NC"
	FindingGoodPractice   FindingType = "good_practice"
	FindingObservation    FindingType = "observation"
)

// Inspection states. A session is created open and moves to scored exactly once.
const (
	InspectionOpen   = "open"
	InspectionScored = "scored"
)

// CorrectiveTask attributes fixed at creation.
const (
	TaskTypeCorrectiveAction = "Corrective Action"
	TaskStatusOpen           = "open"
	TaskPriorityHigh         = "high"
	TaskPriorityMedium       = "medium"
)

type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AreaType  string `json:"area_type,omitempty"`
	Active    bool   `json:"active"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Items     []Item `json:"items,omitempty"`
}

type Item struct {
	ID         string   `json:"id"`
	TemplateID string   `json:"template_id"`
	Question   string   `json:"question"`
	Severity   Severity `json:"severity" enum:"low,medium,high"`
	Position   int      `json:"position"`
}

type Inspection struct {
	ID             string  `json:"id"`
	TemplateID     string  `json:"template_id"`
	ConductedBy    string  `json:"conducted_by"`
	Location       string  `json:"location,omitempty"`
	InspectionDate string  `json:"inspection_date"`
	Status         string  `json:"status" enum:"open,scored"`
	OverallScore   *int    `json:"overall_score,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	ScoredAt       *string `json:"scored_at,omitempty" format:"date-time"`
}

type Finding struct {
	ID           string      `json:"id"`
	InspectionID string      `json:"inspection_id"`
	Seq          int         `json:"seq"`
	Type         FindingType `json:"finding_type"`
	Severity     Severity    `json:"severity" enum:"low,medium,high"`
	Description  string      `json:"description,omitempty"`
	LinkedTaskID *string     `json:"linked_task_id,omitempty"`
}

// FindingReport is a finding joined with its parent inspection, for reporting
// feeds. InspectionCreatedAt carries the parent's creation timestamp for
// keyset pagination and stays out of payloads.
type FindingReport struct {
	Finding
	Location            string `json:"location,omitempty"`
	InspectionDate      string `json:"inspection_date"`
	InspectionCreatedAt string `json:"-"`
}

type Task struct {
	ID          string `json:"id"`
	TaskType    string `json:"task_type"`
	Priority    string `json:"priority" enum:"high,medium"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TrainingGapRequest carries the three input collections handed to the
// external gap detector. The detection algorithm lives outside this service.
type TrainingGapRequest struct {
	Incidents    []map[string]any `json:"incidents"`
	NearMisses   []map[string]any `json:"near_misses"`
	TrainingData []map[string]any `json:"training_data"`
}

// TrainingGapAnalysis is the detector's verdict, passed through untouched.
type TrainingGapAnalysis struct {
	Gaps        []map[string]any `json:"gaps"`
	GeneratedAt string           `json:"generated_at,omitempty" format:"date-time"`
}
