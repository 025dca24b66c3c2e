package lifecycle

import (
	"context"
	"errors"
	"testing"
)

func createTestGoal(t *testing.T, svc *Service, matchID, creator string) Goal {
	t.Helper()
	g, err := svc.CreateGoal(context.Background(), CreateGoalParams{
		MatchID: matchID,
		Title:   "Finish habitat survey",
	}, Actor{UserID: creator})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGoalProgressDerivesStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := seedOpportunity(t, svc, OpportunityMentorship, 5)
	m := activeMatch(t, svc, o.ID, "mentor", "mentee")
	g := createTestGoal(t, svc, m.ID, "mentee")

	if g.Status != GoalNotStarted {
		t.Fatalf("expected not_started, got %s", g.Status)
	}

	g, err := svc.SetGoalProgress(ctx, g.ID, 0, Actor{UserID: "mentee"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != GoalNotStarted || g.StartDate != nil {
		t.Fatalf("zero progress must stay not_started: %+v", g)
	}

	g, err = svc.SetGoalProgress(ctx, g.ID, 0.1, Actor{UserID: "mentee"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != GoalInProgress || g.StartDate == nil {
		t.Fatalf("fractional progress must start the goal: %+v", g)
	}
	started := *g.StartDate

	g, err = svc.SetGoalProgress(ctx, g.ID, 60, Actor{UserID: "mentor"})
	if err != nil {
		t.Fatal(err)
	}
	if !g.StartDate.Equal(started) {
		t.Fatal("start_date must be set once and kept")
	}

	g, err = svc.SetGoalProgress(ctx, g.ID, 100, Actor{UserID: "mentee"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != GoalCompleted || g.CompletionDate == nil {
		t.Fatalf("expected completed with completion_date: %+v", g)
	}
}

func TestGoalCompletionCountsMilestoneOnce(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	o := seedOpportunity(t, svc, OpportunityMentorship, 5)
	m := activeMatch(t, svc, o.ID, "mentor", "mentee")
	g := createTestGoal(t, svc, m.ID, "mentee")

	if _, err := svc.SetGoalProgress(ctx, g.ID, 100, Actor{UserID: "mentee"}); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetMatch(ctx, m.ID)
	if got.MilestonesCompleted != 1 {
		t.Fatalf("expected milestones 1, got %d", got.MilestonesCompleted)
	}

	// Completed goals are frozen; progress cannot move and the milestone
	// cannot be counted again or lost.
	_, err := svc.SetGoalProgress(ctx, g.ID, 50, Actor{UserID: "mentee"})
	if err == nil || err.Error() != "Goal is already completed" {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = svc.SetGoalProgress(ctx, g.ID, 100, Actor{UserID: "mentee"})
	if err == nil {
		t.Fatal("re-completing a goal must fail")
	}
	got, _ = st.GetMatch(ctx, m.ID)
	if got.MilestonesCompleted != 1 {
		t.Fatalf("milestone count moved: %d", got.MilestonesCompleted)
	}
}

func TestGoalProgressBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := seedOpportunity(t, svc, OpportunityMentorship, 5)
	m := activeMatch(t, svc, o.ID, "mentor", "mentee")
	g := createTestGoal(t, svc, m.ID, "mentor")

	var ve *ValidationError
	if _, err := svc.SetGoalProgress(ctx, g.ID, -1, Actor{UserID: "mentor"}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error for -1, got %v", err)
	}
	if _, err := svc.SetGoalProgress(ctx, g.ID, 100.5, Actor{UserID: "mentor"}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error for 100.5, got %v", err)
	}
}

func TestGoalOutsiderForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	o := seedOpportunity(t, svc, OpportunityMentorship, 5)
	m := activeMatch(t, svc, o.ID, "mentor", "mentee")
	g := createTestGoal(t, svc, m.ID, "mentee")

	if _, err := svc.SetGoalProgress(ctx, g.ID, 10, Actor{UserID: "stranger"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.CreateGoal(ctx, CreateGoalParams{MatchID: m.ID, Title: "X"}, Actor{UserID: "stranger"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
