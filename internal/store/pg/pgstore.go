package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"yescholars.org/internal/lifecycle"
)

// Store implements lifecycle.Store on Postgres. Counters are only ever
// touched with relative updates inside the transition's transaction; the
// unique constraints in the schema back the store-level uniqueness rules.
type Store struct {
	db *sql.DB
}

var _ lifecycle.Store = (*Store)(nil)

// Open connects to Postgres. Pool tuning is the caller's: main applies the
// configured limits to DB().
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool; tests hand in a mock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// isUniqueViolation reports a Postgres unique constraint failure (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreateOpportunity(ctx context.Context, o lifecycle.Opportunity) (lifecycle.Opportunity, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into opportunities(
			id, public_ref, kind, title, slug, status,
			positions_available, positions_filled, applications_count, overbook_allowed,
			application_start, application_deadline,
			created_at, updated_at, created_by)
		values ($1,$2,$3,$4,$5,$6,$7,0,0,$8,$9,$10,$11,$12,nullif($13,''))
	`, o.ID, o.PublicRef, o.Kind, o.Title, o.Slug, o.Status,
		o.PositionsAvailable, o.OverbookAllowed,
		o.ApplicationStart, o.ApplicationDeadline,
		o.CreatedAt, o.UpdatedAt, o.CreatedBy)
	if isUniqueViolation(err) {
		return lifecycle.Opportunity{}, lifecycle.ErrConflict
	}
	if err != nil {
		return lifecycle.Opportunity{}, err
	}
	return o, nil
}

func (s *Store) GetOpportunity(ctx context.Context, id string) (lifecycle.Opportunity, error) {
	var o lifecycle.Opportunity
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, public_ref, kind, title, slug, status,
		       positions_available, positions_filled, applications_count, overbook_allowed,
		       application_start, application_deadline,
		       created_at, updated_at, created_by
		from opportunities where id=$1
	`, id).Scan(&o.ID, &o.PublicRef, &o.Kind, &o.Title, &o.Slug, &o.Status,
		&o.PositionsAvailable, &o.PositionsFilled, &o.ApplicationsCount, &o.OverbookAllowed,
		&o.ApplicationStart, &o.ApplicationDeadline,
		&o.CreatedAt, &o.UpdatedAt, &createdBy)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Opportunity{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.Opportunity{}, err
	}
	o.CreatedBy = createdBy.String
	return o, nil
}

// CreateApplication inserts the application and bumps the opportunity's
// applications_count in one transaction. The (opportunity_id, applicant_id)
// unique index decides concurrent duplicates.
func (s *Store) CreateApplication(ctx context.Context, a lifecycle.Application) (lifecycle.Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Application{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update opportunities set applications_count = applications_count + 1, updated_at = now()
		where id=$1
	`, a.OpportunityID)
	if err != nil {
		return lifecycle.Application{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lifecycle.Application{}, lifecycle.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		insert into applications(
			id, public_ref, opportunity_id, applicant_id, status,
			submitted_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.ID, a.PublicRef, a.OpportunityID, a.ApplicantID, a.Status,
		a.SubmittedAt, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return lifecycle.Application{}, lifecycle.ErrConflict
	}
	if err != nil {
		return lifecycle.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Application{}, err
	}
	return a, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (lifecycle.Application, error) {
	var a lifecycle.Application
	var reviewer, notes, reason sql.NullString
	var score sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		select id, public_ref, opportunity_id, applicant_id, status,
		       submitted_at, reviewer_id, review_notes, review_score, reviewed_at, decision_reason,
		       created_at, updated_at
		from applications where id=$1
	`, id).Scan(&a.ID, &a.PublicRef, &a.OpportunityID, &a.ApplicantID, &a.Status,
		&a.SubmittedAt, &reviewer, &notes, &score, &a.ReviewedAt, &reason,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Application{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.Application{}, err
	}
	a.ReviewerID = reviewer.String
	a.ReviewNotes = notes.String
	a.DecisionReason = reason.String
	if score.Valid {
		a.ReviewScore = &score.Float64
	}
	return a, nil
}

func (s *Store) CreateMatch(ctx context.Context, m lifecycle.Match) (lifecycle.Match, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into matches(
			id, public_ref, opportunity_id, mentor_id, mentee_id, status,
			match_score, match_reason, matched_by,
			meetings_held, milestones_completed, hours_logged,
			created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),nullif($9,''),0,0,0,$10,$11)
	`, m.ID, m.PublicRef, m.OpportunityID, m.MentorID, m.MenteeID, m.Status,
		m.MatchScore, m.MatchReason, m.MatchedBy, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return lifecycle.Match{}, lifecycle.ErrConflict
	}
	if err != nil {
		return lifecycle.Match{}, err
	}
	return m, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (lifecycle.Match, error) {
	var m lifecycle.Match
	var reason, termReason, matchedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, public_ref, opportunity_id, mentor_id, mentee_id, status,
		       match_score, match_reason, matched_by,
		       proposed_at, accepted_at, started_at, completed_at, terminated_at, termination_reason,
		       meetings_held, milestones_completed, hours_logged,
		       created_at, updated_at
		from matches where id=$1
	`, id).Scan(&m.ID, &m.PublicRef, &m.OpportunityID, &m.MentorID, &m.MenteeID, &m.Status,
		&m.MatchScore, &reason, &matchedBy,
		&m.ProposedAt, &m.AcceptedAt, &m.StartedAt, &m.CompletedAt, &m.TerminatedAt, &termReason,
		&m.MeetingsHeld, &m.MilestonesCompleted, &m.HoursLogged,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Match{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.Match{}, err
	}
	m.MatchReason = reason.String
	m.TerminationReason = termReason.String
	m.MatchedBy = matchedBy.String
	return m, nil
}

func (s *Store) CreateSession(ctx context.Context, sess lifecycle.Session) (lifecycle.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(
			id, public_ref, match_id, kind, title, status,
			scheduled_start, scheduled_end, created_by, created_at, updated_at)
		values ($1,$2,nullif($3,''),$4,$5,$6,$7,$8,nullif($9,''),$10,$11)
	`, sess.ID, sess.PublicRef, sess.MatchID, sess.Kind, sess.Title, sess.Status,
		sess.ScheduledStart, sess.ScheduledEnd, sess.CreatedBy, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return lifecycle.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (lifecycle.Session, error) {
	var sess lifecycle.Session
	var matchID, createdBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, public_ref, match_id, kind, title, status,
		       scheduled_start, scheduled_end, actual_start, actual_end,
		       created_by, created_at, updated_at
		from sessions where id=$1
	`, id).Scan(&sess.ID, &sess.PublicRef, &matchID, &sess.Kind, &sess.Title, &sess.Status,
		&sess.ScheduledStart, &sess.ScheduledEnd, &sess.ActualStart, &sess.ActualEnd,
		&createdBy, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Session{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.Session{}, err
	}
	sess.MatchID = matchID.String
	sess.CreatedBy = createdBy.String
	return sess, nil
}

func (s *Store) CreateTimeLog(ctx context.Context, t lifecycle.TimeLog) (lifecycle.TimeLog, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into time_logs(
			id, public_ref, match_id, volunteer_id, status, log_date, hours, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.PublicRef, t.MatchID, t.VolunteerID, t.Status, t.Date, t.Hours, t.CreatedAt)
	if err != nil {
		return lifecycle.TimeLog{}, err
	}
	return t, nil
}

func (s *Store) GetTimeLog(ctx context.Context, id string) (lifecycle.TimeLog, error) {
	var t lifecycle.TimeLog
	var approvedBy, reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, public_ref, match_id, volunteer_id, status, log_date, hours,
		       approved_by, approved_at, rejection_reason, created_at
		from time_logs where id=$1
	`, id).Scan(&t.ID, &t.PublicRef, &t.MatchID, &t.VolunteerID, &t.Status, &t.Date, &t.Hours,
		&approvedBy, &t.ApprovedAt, &reason, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.TimeLog{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.TimeLog{}, err
	}
	t.ApprovedBy = approvedBy.String
	t.RejectionReason = reason.String
	return t, nil
}

func (s *Store) CreateGoal(ctx context.Context, g lifecycle.Goal) (lifecycle.Goal, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into goals(
			id, public_ref, match_id, title, status, progress_percentage,
			created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9)
	`, g.ID, g.PublicRef, g.MatchID, g.Title, g.Status, g.ProgressPercentage,
		g.CreatedBy, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return lifecycle.Goal{}, err
	}
	return g, nil
}

func (s *Store) GetGoal(ctx context.Context, id string) (lifecycle.Goal, error) {
	var g lifecycle.Goal
	var createdBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, public_ref, match_id, title, status, progress_percentage,
		       start_date, completion_date, created_by, created_at, updated_at
		from goals where id=$1
	`, id).Scan(&g.ID, &g.PublicRef, &g.MatchID, &g.Title, &g.Status, &g.ProgressPercentage,
		&g.StartDate, &g.CompletionDate, &createdBy, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Goal{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return lifecycle.Goal{}, err
	}
	g.CreatedBy = createdBy.String
	return g, nil
}

// ApplyChange runs the transition's unit of work: the entity write is guarded
// by the status the caller read (zero rows affected means ErrStale), counter
// deltas are relative updates, and the capacity-guarded delta carries its
// guard in the WHERE clause so a full opportunity fails the whole transaction.
func (s *Store) ApplyChange(ctx context.Context, ch lifecycle.Change) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.writeEntity(ctx, tx, ch); err != nil {
		return err
	}
	for _, d := range ch.Counters {
		if err := s.applyCounter(ctx, tx, d); err != nil {
			return err
		}
	}
	if p := ch.Participant; p != nil {
		_, err := tx.ExecContext(ctx, `
			insert into participants(id, public_ref, opportunity_id, user_id, application_id, joined_at)
			values ($1,$2,$3,$4,$5,$6)
		`, p.ID, p.PublicRef, p.OpportunityID, p.UserID, p.ApplicationID, p.JoinedAt)
		if isUniqueViolation(err) {
			return lifecycle.ErrConflict
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) writeEntity(ctx context.Context, tx *sql.Tx, ch lifecycle.Change) error {
	var res sql.Result
	var err error
	switch {
	case ch.Opportunity != nil:
		o := ch.Opportunity
		res, err = tx.ExecContext(ctx, `
			update opportunities
			set status=$3, title=$4, slug=$5, positions_available=$6, overbook_allowed=$7,
			    application_start=$8, application_deadline=$9, updated_at=$10
			where id=$1 and status=$2
		`, o.ID, ch.From, o.Status, o.Title, o.Slug, o.PositionsAvailable, o.OverbookAllowed,
			o.ApplicationStart, o.ApplicationDeadline, o.UpdatedAt)
	case ch.Application != nil:
		a := ch.Application
		res, err = tx.ExecContext(ctx, `
			update applications
			set status=$3, submitted_at=$4, reviewer_id=nullif($5,''), review_notes=nullif($6,''),
			    review_score=$7, reviewed_at=$8, decision_reason=nullif($9,''), updated_at=$10
			where id=$1 and status=$2
		`, a.ID, ch.From, a.Status, a.SubmittedAt, a.ReviewerID, a.ReviewNotes,
			a.ReviewScore, a.ReviewedAt, a.DecisionReason, a.UpdatedAt)
	case ch.Match != nil:
		m := ch.Match
		res, err = tx.ExecContext(ctx, `
			update matches
			set status=$3, proposed_at=$4, accepted_at=$5, started_at=$6, completed_at=$7,
			    terminated_at=$8, termination_reason=nullif($9,''), updated_at=$10
			where id=$1 and status=$2
		`, m.ID, ch.From, m.Status, m.ProposedAt, m.AcceptedAt, m.StartedAt, m.CompletedAt,
			m.TerminatedAt, m.TerminationReason, m.UpdatedAt)
	case ch.Session != nil:
		sess := ch.Session
		res, err = tx.ExecContext(ctx, `
			update sessions
			set status=$3, scheduled_start=$4, scheduled_end=$5, actual_start=$6, actual_end=$7,
			    updated_at=$8
			where id=$1 and status=$2
		`, sess.ID, ch.From, sess.Status, sess.ScheduledStart, sess.ScheduledEnd,
			sess.ActualStart, sess.ActualEnd, sess.UpdatedAt)
	case ch.TimeLog != nil:
		t := ch.TimeLog
		res, err = tx.ExecContext(ctx, `
			update time_logs
			set status=$3, approved_by=nullif($4,''), approved_at=$5, rejection_reason=nullif($6,'')
			where id=$1 and status=$2
		`, t.ID, ch.From, t.Status, t.ApprovedBy, t.ApprovedAt, t.RejectionReason)
	case ch.Goal != nil:
		g := ch.Goal
		res, err = tx.ExecContext(ctx, `
			update goals
			set status=$3, progress_percentage=$4, start_date=$5, completion_date=$6, updated_at=$7
			where id=$1 and status=$2
		`, g.ID, ch.From, g.Status, g.ProgressPercentage, g.StartDate, g.CompletionDate, g.UpdatedAt)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lifecycle.ErrStale
	}
	return nil
}

func (s *Store) applyCounter(ctx context.Context, tx *sql.Tx, d lifecycle.CounterDelta) error {
	switch d.Kind {
	case lifecycle.KindOpportunity:
		if d.Field == lifecycle.CounterPositionsFilled && d.CapacityGuarded && d.Delta > 0 {
			res, err := tx.ExecContext(ctx, `
				update opportunities
				set positions_filled = positions_filled + $2, updated_at = now()
				where id=$1 and (overbook_allowed or positions_filled + $2 <= positions_available)
			`, d.EntityID, int(d.Delta))
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Either the row is gone or the guard refused; disambiguate.
				var exists bool
				if err := tx.QueryRowContext(ctx,
					`select true from opportunities where id=$1`, d.EntityID).Scan(&exists); err != nil {
					if errors.Is(err, sql.ErrNoRows) {
						return lifecycle.ErrNotFound
					}
					return err
				}
				return lifecycle.ErrCapacityFull
			}
			return nil
		}
		return s.bumpColumn(ctx, tx, "opportunities", string(d.Field), d.EntityID, d.Delta)
	case lifecycle.KindMatch:
		return s.bumpColumn(ctx, tx, "matches", string(d.Field), d.EntityID, d.Delta)
	default:
		return fmt.Errorf("counter on unsupported kind %q", d.Kind)
	}
}

// bumpColumn applies a relative counter update. The column name comes from
// the closed CounterField set, never from request input.
func (s *Store) bumpColumn(ctx context.Context, tx *sql.Tx, table, column, id string, delta float64) error {
	q := fmt.Sprintf(`update %s set %s = %s + $2, updated_at = now() where id=$1`, table, column, column)
	res, err := tx.ExecContext(ctx, q, id, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// RecountAggregates rebuilds every derived counter from its source rows in
// one transaction. Scheduled as a periodic repair job.
func (s *Store) RecountAggregates(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`update opportunities o set
			applications_count = coalesce((select count(*) from applications a where a.opportunity_id = o.id), 0),
			positions_filled   = coalesce((select count(*) from applications a where a.opportunity_id = o.id and a.status = 'accepted'), 0)`,
		`update matches m set
			meetings_held        = coalesce((select count(*) from sessions s where s.match_id = m.id and s.status = 'completed'), 0),
			milestones_completed = coalesce((select count(*) from goals g where g.match_id = m.id and g.status = 'completed'), 0),
			hours_logged         = coalesce((select sum(t.hours) from time_logs t where t.match_id = m.id and t.status = 'approved'), 0)`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return tx.Commit()
}
