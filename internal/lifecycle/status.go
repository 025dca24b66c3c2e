package lifecycle

// Status is the lifecycle state of an entity. Each entity kind draws its
// status from a closed set; transitions between them are validated against
// the kind's machine, never assigned free-form.
type Status string

// Action is a transition name as exposed on the HTTP action endpoints.
type Action string

// Kind discriminates the entity families sharing the lifecycle engine.
type Kind string

const (
	KindApplication Kind = "application"
	KindMatch       Kind = "match"
	KindSession     Kind = "session"
	KindTimeLog     Kind = "timelog"
	KindGoal        Kind = "goal"
	KindOpportunity Kind = "opportunity"
)

// Application statuses.
const (
	ApplicationDraft       Status = "draft"
	ApplicationSubmitted   Status = "submitted"
	ApplicationUnderReview Status = "under_review"
	ApplicationShortlisted Status = "shortlisted"
	ApplicationAccepted    Status = "accepted"
	ApplicationRejected    Status = "rejected"
	ApplicationWithdrawn   Status = "withdrawn"
)

// Match/assignment statuses.
const (
	MatchPending    Status = "pending"
	MatchProposed   Status = "proposed"
	MatchAccepted   Status = "accepted"
	MatchRejected   Status = "rejected"
	MatchActive     Status = "active"
	MatchCompleted  Status = "completed"
	MatchTerminated Status = "terminated"
)

// Session/meeting statuses.
const (
	SessionScheduled   Status = "scheduled"
	SessionConfirmed   Status = "confirmed"
	SessionInProgress  Status = "in_progress"
	SessionCompleted   Status = "completed"
	SessionCancelled   Status = "cancelled"
	SessionRescheduled Status = "rescheduled"
)

// Time log statuses.
const (
	TimeLogPending  Status = "pending"
	TimeLogApproved Status = "approved"
	TimeLogRejected Status = "rejected"
)

// Goal statuses, derived from progress, never set directly.
const (
	GoalNotStarted Status = "not_started"
	GoalInProgress Status = "in_progress"
	GoalCompleted  Status = "completed"
)

// Opportunity publication statuses.
const (
	OpportunityDraft     Status = "draft"
	OpportunityPublished Status = "published"
	OpportunityClosed    Status = "closed"
	OpportunityArchived  Status = "archived"
)

var statusSets = map[Kind][]Status{
	KindApplication: {ApplicationDraft, ApplicationSubmitted, ApplicationUnderReview,
		ApplicationShortlisted, ApplicationAccepted, ApplicationRejected, ApplicationWithdrawn},
	KindMatch: {MatchPending, MatchProposed, MatchAccepted, MatchRejected,
		MatchActive, MatchCompleted, MatchTerminated},
	KindSession: {SessionScheduled, SessionConfirmed, SessionInProgress,
		SessionCompleted, SessionCancelled, SessionRescheduled},
	KindTimeLog:     {TimeLogPending, TimeLogApproved, TimeLogRejected},
	KindGoal:        {GoalNotStarted, GoalInProgress, GoalCompleted},
	KindOpportunity: {OpportunityDraft, OpportunityPublished, OpportunityClosed, OpportunityArchived},
}

var statusLabels = map[Kind]map[Status]string{
	KindApplication: {
		ApplicationDraft:       "Draft",
		ApplicationSubmitted:   "Submitted",
		ApplicationUnderReview: "Under Review",
		ApplicationShortlisted: "Shortlisted",
		ApplicationAccepted:    "Accepted",
		ApplicationRejected:    "Rejected",
		ApplicationWithdrawn:   "Withdrawn",
	},
	KindMatch: {
		MatchPending:    "Pending",
		MatchProposed:   "Proposed",
		MatchAccepted:   "Accepted",
		MatchRejected:   "Rejected",
		MatchActive:     "Active",
		MatchCompleted:  "Completed",
		MatchTerminated: "Terminated",
	},
	KindSession: {
		SessionScheduled:   "Scheduled",
		SessionConfirmed:   "Confirmed",
		SessionInProgress:  "In Progress",
		SessionCompleted:   "Completed",
		SessionCancelled:   "Cancelled",
		SessionRescheduled: "Rescheduled",
	},
	KindTimeLog: {
		TimeLogPending:  "Pending Approval",
		TimeLogApproved: "Approved",
		TimeLogRejected: "Rejected",
	},
	KindGoal: {
		GoalNotStarted: "Not Started",
		GoalInProgress: "In Progress",
		GoalCompleted:  "Completed",
	},
	KindOpportunity: {
		OpportunityDraft:     "Draft",
		OpportunityPublished: "Published",
		OpportunityClosed:    "Closed",
		OpportunityArchived:  "Archived",
	},
}

func (s Status) String() string { return string(s) }

// ValidFor reports whether the status belongs to the kind's declared enum.
func (s Status) ValidFor(kind Kind) bool {
	for _, v := range statusSets[kind] {
		if v == s {
			return true
		}
	}
	return false
}

// Label returns the human-readable form of the status for the given kind.
func (s Status) Label(kind Kind) string {
	if l, ok := statusLabels[kind][s]; ok {
		return l
	}
	return string(s)
}

var terminalStatuses = map[Kind]map[Status]bool{
	// Rejected applications are not terminal: the applicant may still withdraw,
	// matching the original guard which only refuses accepted and withdrawn.
	KindApplication: {ApplicationAccepted: true, ApplicationWithdrawn: true},
	KindMatch:       {MatchRejected: true, MatchCompleted: true, MatchTerminated: true},
	KindSession:     {SessionCompleted: true},
	KindTimeLog:     {TimeLogApproved: true, TimeLogRejected: true},
	KindGoal:        {GoalCompleted: true},
}

// IsTerminal reports whether the status has no outgoing transitions for the
// kind. Cancelled sessions are not terminal: they may still be rescheduled.
func (s Status) IsTerminal(kind Kind) bool {
	return terminalStatuses[kind][s]
}
