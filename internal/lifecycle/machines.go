package lifecycle

import "fmt"

// Transition action names, matching the HTTP action endpoints one to one.
const (
	ActionSubmit    Action = "submit"
	ActionReview    Action = "review"
	ActionShortlist Action = "shortlist"
	ActionAccept    Action = "accept"
	ActionReject    Action = "reject"
	ActionWithdraw  Action = "withdraw"

	ActionPropose   Action = "propose"
	ActionStart     Action = "start"
	ActionComplete  Action = "complete"
	ActionTerminate Action = "terminate"

	ActionConfirm    Action = "confirm"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"

	ActionApprove Action = "approve"
)

// applicationMachine covers the review pipeline shared by program, mentorship
// and volunteer applications. The decide endpoint maps its decision payload
// onto the accept/reject rows.
var applicationMachine = &Machine{
	Kind: KindApplication,
	Rules: map[Action]Rule{
		ActionSubmit: {
			From:      []Status{ApplicationDraft},
			To:        ApplicationSubmitted,
			Authorize: applicantOnly("Only the applicant can submit"),
		},
		ActionReview: {
			From:      []Status{ApplicationSubmitted},
			To:        ApplicationUnderReview,
			Authorize: staffOnly("Only staff can review applications"),
		},
		ActionShortlist: {
			From:      []Status{ApplicationUnderReview},
			To:        ApplicationShortlisted,
			Authorize: staffOnly("Only staff can shortlist applications"),
		},
		ActionAccept: {
			From:      []Status{ApplicationShortlisted},
			To:        ApplicationAccepted,
			Authorize: staffOnly("Only staff can decide applications"),
		},
		ActionReject: {
			From:      []Status{ApplicationShortlisted},
			To:        ApplicationRejected,
			Authorize: staffOnly("Only staff can decide applications"),
		},
		ActionWithdraw: {
			From: []Status{ApplicationDraft, ApplicationSubmitted,
				ApplicationUnderReview, ApplicationShortlisted, ApplicationRejected},
			To:        ApplicationWithdrawn,
			Authorize: applicantOrStaff("Only the applicant can withdraw"),
			InvalidMsg: func(current Status) string {
				return fmt.Sprintf("Cannot withdraw application in %s status",
					current.Label(KindApplication))
			},
		},
	},
}

// matchMachine covers mentorship matches and volunteer assignments.
var matchMachine = &Machine{
	Kind: KindMatch,
	Rules: map[Action]Rule{
		ActionPropose: {
			From:      []Status{MatchPending},
			To:        MatchProposed,
			Authorize: staffOnly("Only staff can propose matches"),
		},
		ActionAccept: {
			From:      []Status{MatchProposed},
			To:        MatchAccepted,
			Authorize: menteeOnly("Only mentee can accept the match"),
			InvalidMsg: func(current Status) string {
				return fmt.Sprintf("Match is not in proposed status (current: %s)",
					current.Label(KindMatch))
			},
		},
		ActionReject: {
			From:      []Status{MatchProposed},
			To:        MatchRejected,
			Authorize: menteeOnly("Only mentee can reject the match"),
			InvalidMsg: func(current Status) string {
				return fmt.Sprintf("Match is not in proposed status (current: %s)",
					current.Label(KindMatch))
			},
		},
		ActionStart: {
			From:      []Status{MatchAccepted},
			To:        MatchActive,
			Authorize: matchParty("Only a match participant can start it"),
			InvalidMsg: func(current Status) string {
				return fmt.Sprintf("Match must be accepted before starting (current: %s)",
					current.Label(KindMatch))
			},
		},
		ActionComplete: {
			From:      []Status{MatchActive},
			To:        MatchCompleted,
			Authorize: supervisorOrStaff("Only the supervising party or staff can complete"),
			InvalidMsg: func(current Status) string {
				return fmt.Sprintf("Cannot complete assignment in %s status",
					current.Label(KindMatch))
			},
		},
		ActionTerminate: {
			From:      []Status{MatchActive},
			To:        MatchTerminated,
			Authorize: staffOnly("Only staff can terminate matches"),
		},
	},
}

// sessionMachine covers mentorship sessions and partnership meetings.
// Authorization for sessions and time logs depends on the parent match, so
// the service checks the acting party before evaluating the table.
var sessionMachine = &Machine{
	Kind: KindSession,
	Rules: map[Action]Rule{
		ActionConfirm: {
			From: []Status{SessionScheduled, SessionRescheduled},
			To:   SessionConfirmed,
		},
		ActionStart: {
			From: []Status{SessionScheduled, SessionConfirmed, SessionRescheduled},
			To:   SessionInProgress,
		},
		ActionComplete: {
			From: []Status{SessionScheduled, SessionConfirmed, SessionInProgress,
				SessionRescheduled},
			To:         SessionCompleted,
			InvalidMsg: sessionAlready,
		},
		ActionCancel: {
			From: []Status{SessionScheduled, SessionConfirmed, SessionInProgress,
				SessionRescheduled},
			To:         SessionCancelled,
			InvalidMsg: sessionAlready,
		},
		ActionReschedule: {
			From: []Status{SessionScheduled, SessionConfirmed, SessionCancelled,
				SessionRescheduled},
			To: SessionRescheduled,
		},
	},
}

func sessionAlready(current Status) string {
	return fmt.Sprintf("Session already %s", current.Label(KindSession))
}

// timeLogMachine covers volunteer time log approval.
var timeLogMachine = &Machine{
	Kind: KindTimeLog,
	Rules: map[Action]Rule{
		ActionApprove: {
			From:       []Status{TimeLogPending},
			To:         TimeLogApproved,
			InvalidMsg: timeLogAlready,
		},
		ActionReject: {
			From:       []Status{TimeLogPending},
			To:         TimeLogRejected,
			InvalidMsg: timeLogAlready,
		},
	},
}

func timeLogAlready(current Status) string {
	return fmt.Sprintf("Time log is already %s", current.Label(KindTimeLog))
}

// --- authorization predicates ---

func applicantOnly(msg string) Predicate {
	return func(subject any, actor Actor) error {
		app, ok := subject.(*Application)
		if !ok || actor.UserID != app.ApplicantID {
			return forbidden(msg)
		}
		return nil
	}
}

func applicantOrStaff(msg string) Predicate {
	return func(subject any, actor Actor) error {
		if actor.IsStaff() {
			return nil
		}
		app, ok := subject.(*Application)
		if !ok || actor.UserID != app.ApplicantID {
			return forbidden(msg)
		}
		return nil
	}
}

func menteeOnly(msg string) Predicate {
	return func(subject any, actor Actor) error {
		m, ok := subject.(*Match)
		if !ok || actor.UserID != m.MenteeID {
			return forbidden(msg)
		}
		return nil
	}
}

func matchParty(msg string) Predicate {
	return func(subject any, actor Actor) error {
		m, ok := subject.(*Match)
		if !ok || !m.Party(actor.UserID) {
			return forbidden(msg)
		}
		return nil
	}
}

func supervisorOrStaff(msg string) Predicate {
	return func(subject any, actor Actor) error {
		if actor.IsStaff() {
			return nil
		}
		m, ok := subject.(*Match)
		if !ok || actor.UserID != m.MentorID {
			return forbidden(msg)
		}
		return nil
	}
}
