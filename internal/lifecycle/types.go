package lifecycle

import (
	"time"

	"yescholars.org/internal/auth"
)

// OpportunityKind distinguishes the three module instantiations sharing the
// opportunity shape.
type OpportunityKind string

const (
	OpportunityProgram    OpportunityKind = "program"
	OpportunityMentorship OpportunityKind = "mentorship"
	OpportunityVolunteer  OpportunityKind = "volunteer"
)

// Actor is the authenticated principal attempting a transition.
type Actor struct {
	UserID string
	Roles  []string
}

// ActorFromClaims builds an Actor from verified token claims.
func ActorFromClaims(userID string, roles []string) Actor {
	return Actor{UserID: userID, Roles: roles}
}

// IsStaff reports whether the actor carries the staff role.
func (a Actor) IsStaff() bool {
	for _, r := range a.Roles {
		if r == auth.RoleStaff {
			return true
		}
	}
	return false
}

// Opportunity is a capacity-bounded offering that applications target.
// PositionsFilled and ApplicationsCount are derived counters, mutated only by
// atomic store increments and the reconciler, never written from request state.
type Opportunity struct {
	ID        string          `json:"id"`
	PublicRef string          `json:"public_ref"`
	Kind      OpportunityKind `json:"kind"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	Status    Status          `json:"status"`

	PositionsAvailable  int  `json:"positions_available"`
	PositionsFilled     int  `json:"positions_filled"`
	ApplicationsCount   int  `json:"applications_count"`
	OverbookAllowed     bool `json:"overbook_allowed"`

	ApplicationStart    time.Time `json:"application_start"`
	ApplicationDeadline time.Time `json:"application_deadline"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// AcceptingApplications reports whether the application window is open.
func (o Opportunity) AcceptingApplications(now time.Time) bool {
	if o.Status != OpportunityPublished {
		return false
	}
	return !now.Before(o.ApplicationStart) && !now.After(o.ApplicationDeadline)
}

// Application is one user's request to join an opportunity. One per
// (opportunity, applicant) pair, enforced by the store.
type Application struct {
	ID            string `json:"id"`
	PublicRef     string `json:"public_ref"`
	OpportunityID string `json:"opportunity_id"`
	ApplicantID   string `json:"applicant_id"`
	Status        Status `json:"status"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`

	// Review metadata, written only during review transitions.
	ReviewerID     string     `json:"reviewer_id,omitempty"`
	ReviewNotes    string     `json:"review_notes,omitempty"`
	ReviewScore    *float64   `json:"review_score,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	DecisionReason string     `json:"decision_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Match links two parties under an opportunity: mentor and mentee for
// mentorship, supervisor and volunteer for assignments. MentorID is the
// supervising party in both readings. Unique per (opportunity, mentor, mentee).
type Match struct {
	ID            string `json:"id"`
	PublicRef     string `json:"public_ref"`
	OpportunityID string `json:"opportunity_id"`
	MentorID      string `json:"mentor_id"`
	MenteeID      string `json:"mentee_id"`
	Status        Status `json:"status"`

	MatchScore  float64 `json:"match_score"`
	MatchReason string  `json:"match_reason,omitempty"`

	// One timestamp per transition, null until reached, immutable once set.
	ProposedAt   *time.Time `json:"proposed_at,omitempty"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`

	TerminationReason string `json:"termination_reason,omitempty"`

	// Progress counters incremented by child session/goal/timelog events.
	MeetingsHeld        int     `json:"meetings_held"`
	MilestonesCompleted int     `json:"milestones_completed"`
	HoursLogged         float64 `json:"hours_logged"`

	MatchedBy string    `json:"matched_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Party reports whether the user is one of the two linked parties.
func (m Match) Party(userID string) bool {
	return userID != "" && (userID == m.MentorID || userID == m.MenteeID)
}

// SessionKind separates match sessions from partnership meetings, which ride
// the same machine but have no parent match and no meeting counter.
type SessionKind string

const (
	SessionKindSession SessionKind = "session"
	SessionKindMeeting SessionKind = "meeting"
)

// Session is a scheduled unit of work belonging to at most one match.
type Session struct {
	ID        string      `json:"id"`
	PublicRef string      `json:"public_ref"`
	MatchID   string      `json:"match_id,omitempty"`
	Kind      SessionKind `json:"kind"`
	Title     string      `json:"title"`
	Status    Status      `json:"status"`

	ScheduledStart time.Time  `json:"scheduled_start"`
	ScheduledEnd   time.Time  `json:"scheduled_end"`
	ActualStart    *time.Time `json:"actual_start,omitempty"`
	ActualEnd      *time.Time `json:"actual_end,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeLog records volunteer hours under an assignment; hours count toward the
// assignment only once approved.
type TimeLog struct {
	ID          string `json:"id"`
	PublicRef   string `json:"public_ref"`
	MatchID     string `json:"match_id"`
	VolunteerID string `json:"volunteer_id"`
	Status      Status `json:"status"`

	Date  time.Time `json:"date"`
	Hours float64   `json:"hours"`

	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Goal tracks progress under a match. Status is derived from
// ProgressPercentage and never assigned by API consumers.
type Goal struct {
	ID        string `json:"id"`
	PublicRef string `json:"public_ref"`
	MatchID   string `json:"match_id"`
	Title     string `json:"title"`
	Status    Status `json:"status"`

	ProgressPercentage float64    `json:"progress_percentage"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	CompletionDate     *time.Time `json:"completion_date,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is the linking record created when an application is accepted.
type Participant struct {
	ID            string    `json:"id"`
	PublicRef     string    `json:"public_ref"`
	OpportunityID string    `json:"opportunity_id"`
	UserID        string    `json:"user_id"`
	ApplicationID string    `json:"application_id"`
	JoinedAt      time.Time `json:"joined_at"`
}
