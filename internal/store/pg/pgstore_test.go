package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"yescholars.org/internal/lifecycle"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func uniqueErr() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "applications_opportunity_applicant_key"}
}

func TestCreateApplicationBumpsCounter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities set applications_count = applications_count \\+ 1").
		WithArgs("opp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into applications").
		WithArgs("app-1", "ref-1", "opp-1", "u1", "submitted",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	_, err := s.CreateApplication(context.Background(), lifecycle.Application{
		ID: "app-1", PublicRef: "ref-1", OpportunityID: "opp-1", ApplicantID: "u1",
		Status: lifecycle.ApplicationSubmitted, SubmittedAt: &now,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateApplicationDuplicateMapsToConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities set applications_count").
		WithArgs("opp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into applications").
		WillReturnError(uniqueErr())
	mock.ExpectRollback()

	_, err := s.CreateApplication(context.Background(), lifecycle.Application{
		ID: "app-1", OpportunityID: "opp-1", ApplicantID: "u1",
		Status: lifecycle.ApplicationSubmitted,
	})
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateApplicationMissingOpportunity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities set applications_count").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.CreateApplication(context.Background(), lifecycle.Application{
		ID: "app-1", OpportunityID: "gone", ApplicantID: "u1",
	})
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyChangeStaleStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update applications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	now := time.Now().UTC()
	err := s.ApplyChange(context.Background(), lifecycle.Change{
		From: lifecycle.ApplicationShortlisted,
		Application: &lifecycle.Application{
			ID: "app-1", Status: lifecycle.ApplicationAccepted, UpdatedAt: now,
		},
	})
	if !errors.Is(err, lifecycle.ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestApplyChangeAcceptWithCapacityGuard(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update applications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update opportunities").
		WithArgs("opp-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into participants").
		WithArgs("p-1", "pref-1", "opp-1", "u1", "app-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	err := s.ApplyChange(context.Background(), lifecycle.Change{
		From: lifecycle.ApplicationShortlisted,
		Application: &lifecycle.Application{
			ID: "app-1", Status: lifecycle.ApplicationAccepted, UpdatedAt: now,
		},
		Counters: []lifecycle.CounterDelta{{
			Kind: lifecycle.KindOpportunity, EntityID: "opp-1",
			Field: lifecycle.CounterPositionsFilled, Delta: 1, CapacityGuarded: true,
		}},
		Participant: &lifecycle.Participant{
			ID: "p-1", PublicRef: "pref-1", OpportunityID: "opp-1",
			UserID: "u1", ApplicationID: "app-1", JoinedAt: now,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyChangeCapacityFullRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update applications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update opportunities").
		WithArgs("opp-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select true from opportunities").
		WithArgs("opp-1").
		WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
	mock.ExpectRollback()

	now := time.Now().UTC()
	err := s.ApplyChange(context.Background(), lifecycle.Change{
		From: lifecycle.ApplicationShortlisted,
		Application: &lifecycle.Application{
			ID: "app-1", Status: lifecycle.ApplicationAccepted, UpdatedAt: now,
		},
		Counters: []lifecycle.CounterDelta{{
			Kind: lifecycle.KindOpportunity, EntityID: "opp-1",
			Field: lifecycle.CounterPositionsFilled, Delta: 1, CapacityGuarded: true,
		}},
	})
	if !errors.Is(err, lifecycle.ErrCapacityFull) {
		t.Fatalf("expected capacity full, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplyChangeTimeLogApproval(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update time_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update matches set hours_logged = hours_logged \\+ \\$2").
		WithArgs("m-1", 4.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	err := s.ApplyChange(context.Background(), lifecycle.Change{
		From: lifecycle.TimeLogPending,
		TimeLog: &lifecycle.TimeLog{
			ID: "tl-1", MatchID: "m-1", Status: lifecycle.TimeLogApproved,
			ApprovedBy: "sup-1", ApprovedAt: &now, Hours: 4.5,
		},
		Counters: []lifecycle.CounterDelta{{
			Kind: lifecycle.KindMatch, EntityID: "m-1",
			Field: lifecycle.CounterHoursLogged, Delta: 4.5,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetMatchNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from matches where id=\\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetMatch(context.Background(), "missing")
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecountAggregates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update opportunities o set").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("update matches m set").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	if err := s.RecountAggregates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateMatchDuplicateTriple(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into matches").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "matches_opportunity_mentor_mentee_key"})

	_, err := s.CreateMatch(context.Background(), lifecycle.Match{
		ID: "m-1", OpportunityID: "opp-1", MentorID: "a", MenteeID: "b",
		Status: lifecycle.MatchPending,
	})
	if !errors.Is(err, lifecycle.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
