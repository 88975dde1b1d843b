package incident

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an incident. RESOLVED, FALSE and
// DUPLICATE are terminal: once entered, status and severity are frozen.
type Status string

const (
	StatusUnverified Status = "UNVERIFIED"
	StatusVerified   Status = "VERIFIED"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusDuplicate  Status = "DUPLICATE"
	StatusFalse      Status = "FALSE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnverified, StatusVerified, StatusAssigned, StatusInProgress,
		StatusResolved, StatusDuplicate, StatusFalse:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusDuplicate, StatusFalse:
		return true
	}
	return false
}

// Severity is the urgency classification, LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for comparison; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Type is the reported incident category.
type Type string

const (
	TypeFire           Type = "FIRE"
	TypeMedical        Type = "MEDICAL"
	TypeAccident       Type = "ACCIDENT"
	TypeInfrastructure Type = "INFRASTRUCTURE"
	TypeCrime          Type = "CRIME"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFire, TypeMedical, TypeAccident, TypeInfrastructure, TypeCrime:
		return true
	}
	return false
}

// Action classifies an activity-log entry.
type Action string

const (
	ActionStatusChanged   Action = "STATUS_CHANGED"
	ActionSeverityChanged Action = "SEVERITY_CHANGED"
	ActionVerified        Action = "VERIFIED"
	ActionMarkedFalse     Action = "MARKED_FALSE"
	ActionMarkedDuplicate Action = "MARKED_DUPLICATE"
	ActionNoteAdded       Action = "NOTE_ADDED"
	ActionAssigned        Action = "ASSIGNED"
	ActionUpvoted         Action = "UPVOTED"
	ActionReported        Action = "REPORTED"
)

type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Area    string  `json:"area,omitempty"`
	Address string  `json:"address,omitempty"`
}

// Incident is one reported emergency event tracked through the lifecycle.
// Records are replaced copy-on-write by the engine; nothing outside this
// package mutates them.
type Incident struct {
	ID                 int64      `json:"id"`
	RegNo              string     `json:"reg_no"`
	Type               Type       `json:"type"`
	Severity           Severity   `json:"severity"`
	Status             Status     `json:"status"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Location           Location   `json:"location"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Upvotes            int64      `json:"upvotes"`
	Priority           int        `json:"priority"`
	ReporterID         *int64     `json:"reporter_id,omitempty"`
	ReportedBy         string     `json:"reported_by,omitempty"`
	AssignedDepartment string     `json:"assigned_department,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	VerifiedBy         *int64     `json:"verified_by,omitempty"`
	VerifiedByName     string     `json:"verified_by_name,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	DuplicateOf        *int64     `json:"duplicate_of,omitempty"`
	Media              []string   `json:"media,omitempty"`
	Version            int        `json:"version"`
}

func (inc *Incident) Clone() *Incident {
	if inc == nil {
		return nil
	}
	cp := *inc
	if inc.VerifiedAt != nil {
		t := *inc.VerifiedAt
		cp.VerifiedAt = &t
	}
	if inc.VerifiedBy != nil {
		v := *inc.VerifiedBy
		cp.VerifiedBy = &v
	}
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		cp.ResolvedAt = &t
	}
	if inc.ReporterID != nil {
		v := *inc.ReporterID
		cp.ReporterID = &v
	}
	if inc.DuplicateOf != nil {
		v := *inc.DuplicateOf
		cp.DuplicateOf = &v
	}
	if inc.Media != nil {
		cp.Media = append([]string(nil), inc.Media...)
	}
	return &cp
}

// AdminNote is an append-only remark on one incident.
type AdminNote struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	Content    string    `json:"content"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActivityLogEntry records one successful mutation of one incident.
type ActivityLogEntry struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	Action     Action    `json:"action"`
	Details    string    `json:"details"`
	UserID     int64     `json:"user_id"`
	UserName   string    `json:"user_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor identifies who issued a command. The system actor (background
// jobs) carries ID 0 and the system role.
type Actor struct {
	ID    int64
	Name  string
	Roles []string
}

// ParseStatus normalizes external status input, including the legacy
// intake value "Pending" which maps to UNVERIFIED.
func ParseStatus(raw string) (Status, bool) {
	val := strings.ToUpper(strings.TrimSpace(raw))
	val = strings.ReplaceAll(val, " ", "_")
	if val == "PENDING" || val == "" {
		return StatusUnverified, val == "PENDING"
	}
	st := Status(val)
	return st, st.Valid()
}

func ParseSeverity(raw string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	return sev, sev.Valid()
}

func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t.Valid()
}

func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	switch a {
	case ActionStatusChanged, ActionSeverityChanged, ActionVerified,
		ActionMarkedFalse, ActionMarkedDuplicate, ActionNoteAdded,
		ActionAssigned, ActionUpvoted, ActionReported:
		return a, true
	}
	return a, false
}
