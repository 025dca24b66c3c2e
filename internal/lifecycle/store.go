package lifecycle

import "context"

// CounterField names an aggregate counter a transition may adjust.
type CounterField string

const (
	CounterApplications    CounterField = "applications_count"
	CounterPositionsFilled CounterField = "positions_filled"
	CounterMeetingsHeld    CounterField = "meetings_held"
	CounterMilestones      CounterField = "milestones_completed"
	CounterHoursLogged     CounterField = "hours_logged"
)

// CounterDelta is an atomic increment applied to a related aggregate as part
// of a transition's unit of work. The store performs it as a relative update
// (counter = counter + delta), never as a read-then-set. CapacityGuarded
// deltas must fail with ErrCapacityFull when the opportunity is full and
// overbooking is off, and the whole unit of work rolls back.
type CounterDelta struct {
	Kind            Kind
	EntityID        string
	Field           CounterField
	Delta           float64
	CapacityGuarded bool
}

// Change is the persistence descriptor the engine hands to the store after a
// transition is validated: the mutated entity (exactly one pointer set), the
// status it was read in (precondition), counter deltas on related aggregates,
// and an optional related record to create. The store applies all of it
// atomically; a failed precondition returns ErrStale.
type Change struct {
	From Status

	Opportunity *Opportunity
	Application *Application
	Match       *Match
	Session     *Session
	TimeLog     *TimeLog
	Goal        *Goal

	Counters    []CounterDelta
	Participant *Participant
}

// Store is the entity store consumed by the lifecycle service. Uniqueness
// invariants (one application per applicant per opportunity, one match per
// mentor/mentee/opportunity triple) are enforced by the store itself, not
// checked-then-inserted by callers.
type Store interface {
	CreateOpportunity(ctx context.Context, o Opportunity) (Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (Opportunity, error)

	// CreateApplication enforces the (opportunity, applicant) uniqueness
	// constraint and bumps the opportunity's applications_count in the same
	// unit of work.
	CreateApplication(ctx context.Context, a Application) (Application, error)
	GetApplication(ctx context.Context, id string) (Application, error)

	// CreateMatch enforces the (opportunity, mentor, mentee) uniqueness
	// constraint.
	CreateMatch(ctx context.Context, m Match) (Match, error)
	GetMatch(ctx context.Context, id string) (Match, error)

	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)

	CreateTimeLog(ctx context.Context, t TimeLog) (TimeLog, error)
	GetTimeLog(ctx context.Context, id string) (TimeLog, error)

	CreateGoal(ctx context.Context, g Goal) (Goal, error)
	GetGoal(ctx context.Context, id string) (Goal, error)

	// ApplyChange persists one transition: entity row update guarded by the
	// From status, counter deltas, related creates. All or nothing.
	ApplyChange(ctx context.Context, ch Change) error

	// RecountAggregates recomputes every derived counter from its
	// source-of-truth rows. Counters are derived state, so drift repair is a
	// store-level concern.
	RecountAggregates(ctx context.Context) error
}
