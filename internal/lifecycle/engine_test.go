package lifecycle

import (
	"errors"
	"testing"
)

func TestEvalUnknownAction(t *testing.T) {
	_, err := applicationMachine.Eval(&Application{}, ApplicationDraft, "frobnicate", Actor{})
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestEvalIllegalSourceUsesGuardMessage(t *testing.T) {
	a := &Application{ApplicantID: "u1"}
	_, err := applicationMachine.Eval(a, ApplicationAccepted, ActionWithdraw, Actor{UserID: "u1"})
	if err == nil || err.Error() != "Cannot withdraw application in Accepted status" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEvalAuthorizationRunsBeforeStatusCheck(t *testing.T) {
	// An unauthorized actor gets forbidden whatever the status; only an
	// authorized caller sees status errors.
	m := &Match{MentorID: "mentor", MenteeID: "mentee"}
	for _, current := range []Status{MatchPending, MatchProposed, MatchActive} {
		_, err := matchMachine.Eval(m, current, ActionAccept, Actor{UserID: "mentor"})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("status %s: expected forbidden, got %v", current, err)
		}
		if err.Error() != "Only mentee can accept the match" {
			t.Fatalf("unexpected message: %q", err.Error())
		}
	}

	_, err := matchMachine.Eval(m, MatchPending, ActionAccept, Actor{UserID: "mentee"})
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestEvalReturnsTarget(t *testing.T) {
	m := &Match{MentorID: "mentor", MenteeID: "mentee"}
	next, err := matchMachine.Eval(m, MatchProposed, ActionAccept, Actor{UserID: "mentee"})
	if err != nil {
		t.Fatal(err)
	}
	if next != MatchAccepted {
		t.Fatalf("expected accepted, got %s", next)
	}
}

func TestLegalEnumeratesTable(t *testing.T) {
	if !sessionMachine.Legal(SessionCancelled, ActionReschedule) {
		t.Fatal("cancelled sessions must be reschedulable")
	}
	if sessionMachine.Legal(SessionCompleted, ActionCancel) {
		t.Fatal("completed sessions must not be cancellable")
	}
	if !sessionMachine.Legal(SessionRescheduled, ActionComplete) {
		t.Fatal("rescheduled sessions must be completable")
	}
	if timeLogMachine.Legal(TimeLogApproved, ActionApprove) {
		t.Fatal("approved time logs must not be re-approvable")
	}
}

func TestStatusEnumsAndTerminals(t *testing.T) {
	if !ApplicationUnderReview.ValidFor(KindApplication) {
		t.Fatal("under_review must be a valid application status")
	}
	if MatchActive.ValidFor(KindGoal) {
		t.Fatal("active is not a goal status")
	}
	if ApplicationRejected.IsTerminal(KindApplication) {
		t.Fatal("rejected applications can still be withdrawn")
	}
	if !MatchTerminated.IsTerminal(KindMatch) {
		t.Fatal("terminated matches are terminal")
	}
	if SessionCancelled.IsTerminal(KindSession) {
		t.Fatal("cancelled sessions can still be rescheduled")
	}
	if SessionRescheduled.IsTerminal(KindSession) {
		t.Fatal("rescheduled sessions can still be held")
	}
}
