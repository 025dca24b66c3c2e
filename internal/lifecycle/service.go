package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yescholars.org/internal/audit"
	"yescholars.org/internal/ids"
	"yescholars.org/internal/notify"
	"yescholars.org/internal/obs"
)

// defaultSessionDuration backfills actual_start when a session is completed
// without ever being started.
const defaultSessionDuration = time.Hour

// Notification template ids.
const (
	TemplateApplicationReceived = "application_received"
	TemplateApplicationAccepted = "application_accepted"
	TemplateApplicationRejected = "application_rejected"
	TemplateMatchProposed       = "match_proposed"
	TemplateMatchAccepted       = "match_accepted"
	TemplateMatchCompleted      = "match_completed"
)

// Service runs lifecycle transitions: it evaluates the per-kind machines,
// hands the resulting change to the store as one unit of work, and emits
// notification descriptors after the store confirms. Notifications are
// best-effort; store failures are not.
type Service struct {
	store    Store
	notifier notify.Notifier
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the lifecycle service.
func NewService(store Store, notifier notify.Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	s := &Service{store: store, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(kind Kind, action Action, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	obs.ObserveTransition(string(kind), string(action), outcome)
}

// --- opportunities ---

// CreateOpportunityParams carries staff input for a new opportunity.
type CreateOpportunityParams struct {
	Kind                OpportunityKind
	Title               string
	Slug                string
	PositionsAvailable  int
	OverbookAllowed     bool
	ApplicationStart    time.Time
	ApplicationDeadline time.Time
}

func (s *Service) CreateOpportunity(ctx context.Context, p CreateOpportunityParams, actor Actor) (Opportunity, error) {
	if !actor.IsStaff() {
		return Opportunity{}, forbidden("Only staff can create opportunities")
	}
	if strings.TrimSpace(p.Title) == "" {
		return Opportunity{}, invalidf("title is required")
	}
	if p.PositionsAvailable <= 0 {
		return Opportunity{}, invalidf("positions_available must be > 0")
	}
	if !p.ApplicationDeadline.After(p.ApplicationStart) {
		return Opportunity{}, invalidf("application_deadline must be after application_start")
	}
	switch p.Kind {
	case OpportunityProgram, OpportunityMentorship, OpportunityVolunteer:
	default:
		return Opportunity{}, invalidf("unknown opportunity kind %q", p.Kind)
	}
	now := s.now().UTC()
	o := Opportunity{
		ID:                  ids.New(),
		PublicRef:           ids.NewPublicRef(),
		Kind:                p.Kind,
		Title:               p.Title,
		Slug:                p.Slug,
		Status:              OpportunityDraft,
		PositionsAvailable:  p.PositionsAvailable,
		OverbookAllowed:     p.OverbookAllowed,
		ApplicationStart:    p.ApplicationStart,
		ApplicationDeadline: p.ApplicationDeadline,
		CreatedAt:           now,
		UpdatedAt:           now,
		CreatedBy:           actor.UserID,
	}
	return s.store.CreateOpportunity(ctx, o)
}

func (s *Service) GetOpportunity(ctx context.Context, id string) (Opportunity, error) {
	return s.store.GetOpportunity(ctx, id)
}

// PublishOpportunity opens the opportunity for applications.
func (s *Service) PublishOpportunity(ctx context.Context, id string, actor Actor) (Opportunity, error) {
	return s.setOpportunityStatus(ctx, id, "publish", actor,
		[]Status{OpportunityDraft, OpportunityClosed}, OpportunityPublished)
}

// CloseOpportunity stops accepting applications without archiving.
func (s *Service) CloseOpportunity(ctx context.Context, id string, actor Actor) (Opportunity, error) {
	return s.setOpportunityStatus(ctx, id, "close", actor,
		[]Status{OpportunityPublished}, OpportunityClosed)
}

// ArchiveOpportunity retires a closed opportunity for good.
func (s *Service) ArchiveOpportunity(ctx context.Context, id string, actor Actor) (Opportunity, error) {
	return s.setOpportunityStatus(ctx, id, "archive", actor,
		[]Status{OpportunityDraft, OpportunityClosed}, OpportunityArchived)
}

func (s *Service) setOpportunityStatus(ctx context.Context, id string, action Action, actor Actor,
	from []Status, to Status) (Opportunity, error) {
	if !actor.IsStaff() {
		err := forbidden("Only staff can manage opportunities")
		s.observe(KindOpportunity, action, err)
		return Opportunity{}, err
	}
	o, err := s.store.GetOpportunity(ctx, id)
	if err != nil {
		s.observe(KindOpportunity, action, err)
		return Opportunity{}, err
	}
	if !statusIn(o.Status, from) {
		err := &InvalidTransitionError{Kind: KindOpportunity, Action: action, Current: o.Status}
		s.observe(KindOpportunity, action, err)
		return Opportunity{}, err
	}
	prev := o.Status
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	if err := s.store.ApplyChange(ctx, Change{From: prev, Opportunity: &o}); err != nil {
		s.observe(KindOpportunity, action, err)
		return Opportunity{}, err
	}
	s.observe(KindOpportunity, action, nil)
	audit.Transition(ctx, string(KindOpportunity), o.ID, string(action), string(prev), string(to))
	return o, nil
}

// --- applications ---

// ApplyParams carries applicant input when applying to an opportunity.
type ApplyParams struct {
	OpportunityID string
	Draft         bool // true keeps the application in draft instead of submitting
}

// Apply creates an application. Uniqueness per (opportunity, applicant) is
// enforced by the store; hitting the constraint surfaces as ErrConflict so a
// concurrent duplicate loses cleanly instead of racing a check-then-insert.
func (s *Service) Apply(ctx context.Context, p ApplyParams, actor Actor) (Application, error) {
	if actor.UserID == "" {
		return Application{}, forbidden("Authentication required to apply")
	}
	o, err := s.store.GetOpportunity(ctx, p.OpportunityID)
	if err != nil {
		return Application{}, err
	}
	now := s.now().UTC()
	if !o.AcceptingApplications(now) {
		return Application{}, invalidf("This %s is not currently accepting applications", o.Kind)
	}
	a := Application{
		ID:            ids.New(),
		PublicRef:     ids.NewPublicRef(),
		OpportunityID: o.ID,
		ApplicantID:   actor.UserID,
		Status:        ApplicationSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.Draft {
		a.Status = ApplicationDraft
	} else {
		a.SubmittedAt = &now
	}
	created, err := s.store.CreateApplication(ctx, a)
	if err != nil {
		return Application{}, err
	}
	s.notifier.Notify(notify.Notification{
		Template:  TemplateApplicationReceived,
		Recipient: actor.UserID,
		Context: map[string]string{
			"opportunity": o.Title,
			"application": created.PublicRef,
		},
	})
	return created, nil
}

func (s *Service) GetApplication(ctx context.Context, id string) (Application, error) {
	return s.store.GetApplication(ctx, id)
}

// SubmitApplication moves a draft application into the review pipeline.
func (s *Service) SubmitApplication(ctx context.Context, id string, actor Actor) (Application, error) {
	var out Application
	err := s.transitionApplication(ctx, id, ActionSubmit, actor, func(a *Application, ch *Change) error {
		now := s.now().UTC()
		a.SubmittedAt = &now
		return nil
	}, &out)
	return out, err
}

// ReviewApplication claims the application for the acting reviewer.
func (s *Service) ReviewApplication(ctx context.Context, id string, actor Actor) (Application, error) {
	var out Application
	err := s.transitionApplication(ctx, id, ActionReview, actor, func(a *Application, ch *Change) error {
		a.ReviewerID = actor.UserID
		return nil
	}, &out)
	return out, err
}

// ShortlistApplication marks the application as shortlisted.
func (s *Service) ShortlistApplication(ctx context.Context, id string, actor Actor) (Application, error) {
	var out Application
	err := s.transitionApplication(ctx, id, ActionShortlist, actor, nil, &out)
	return out, err
}

// Decision is the payload of the decide endpoint.
type Decision struct {
	Accept bool
	Reason string
	Score  *float64
	Notes  string
}

// DecideApplication accepts or rejects a shortlisted application. Accepting
// creates the participant record and takes one position on the opportunity,
// guarded against overfill inside the store's unit of work.
func (s *Service) DecideApplication(ctx context.Context, id string, d Decision, actor Actor) (Application, error) {
	action := ActionReject
	if d.Accept {
		action = ActionAccept
	} else if strings.TrimSpace(d.Reason) == "" {
		return Application{}, invalidf("Rejection reason is required")
	}
	if d.Score != nil && (*d.Score < 0 || *d.Score > 100) {
		return Application{}, invalidf("review_score must be between 0 and 100")
	}

	var out Application
	err := s.transitionApplication(ctx, id, action, actor, func(a *Application, ch *Change) error {
		now := s.now().UTC()
		a.ReviewedAt = &now
		if a.ReviewerID == "" {
			a.ReviewerID = actor.UserID
		}
		a.ReviewScore = d.Score
		a.ReviewNotes = d.Notes
		if !d.Accept {
			a.DecisionReason = d.Reason
			return nil
		}
		ch.Participant = &Participant{
			ID:            ids.New(),
			PublicRef:     ids.NewPublicRef(),
			OpportunityID: a.OpportunityID,
			UserID:        a.ApplicantID,
			ApplicationID: a.ID,
			JoinedAt:      now,
		}
		ch.Counters = append(ch.Counters, CounterDelta{
			Kind:            KindOpportunity,
			EntityID:        a.OpportunityID,
			Field:           CounterPositionsFilled,
			Delta:           1,
			CapacityGuarded: true,
		})
		return nil
	}, &out)
	if err != nil {
		return Application{}, err
	}

	template := TemplateApplicationRejected
	if d.Accept {
		template = TemplateApplicationAccepted
	}
	s.notifier.Notify(notify.Notification{
		Template:  template,
		Recipient: out.ApplicantID,
		Context:   map[string]string{"application": out.PublicRef},
	})
	return out, nil
}

// WithdrawApplication withdraws a non-accepted application.
func (s *Service) WithdrawApplication(ctx context.Context, id string, actor Actor) (Application, error) {
	var out Application
	err := s.transitionApplication(ctx, id, ActionWithdraw, actor, nil, &out)
	return out, err
}

// transitionApplication runs one application transition end to end: read,
// evaluate the table, apply the mutation callback, persist atomically.
func (s *Service) transitionApplication(ctx context.Context, id string, action Action, actor Actor,
	mutate func(*Application, *Change) error, out *Application) error {
	a, err := s.store.GetApplication(ctx, id)
	if err != nil {
		s.observe(KindApplication, action, err)
		return err
	}
	next, err := applicationMachine.Eval(&a, a.Status, action, actor)
	if err != nil {
		s.observe(KindApplication, action, err)
		return err
	}
	from := a.Status
	a.Status = next
	a.UpdatedAt = s.now().UTC()

	ch := Change{From: from, Application: &a}
	if mutate != nil {
		if err := mutate(&a, &ch); err != nil {
			s.observe(KindApplication, action, err)
			return err
		}
	}
	if err := s.store.ApplyChange(ctx, ch); err != nil {
		s.observe(KindApplication, action, err)
		return err
	}
	s.observe(KindApplication, action, nil)
	audit.Transition(ctx, string(KindApplication), a.ID, string(action), string(from), string(next))
	*out = a
	return nil
}

// --- matches ---

// CreateMatchParams carries staff input for a new pending match.
type CreateMatchParams struct {
	ApplicationID string
	MentorID      string
	MatchScore    float64
	MatchReason   string
}

// CreateMatch links an accepted applicant with a mentor (or supervisor) under
// the application's opportunity. The match starts pending and is proposed to
// the mentee as a separate step.
func (s *Service) CreateMatch(ctx context.Context, p CreateMatchParams, actor Actor) (Match, error) {
	if !actor.IsStaff() {
		return Match{}, forbidden("Only staff can create matches")
	}
	if p.MatchScore < 0 || p.MatchScore > 100 {
		return Match{}, invalidf("match_score must be between 0 and 100")
	}
	if strings.TrimSpace(p.MentorID) == "" {
		return Match{}, invalidf("mentor_id is required")
	}
	a, err := s.store.GetApplication(ctx, p.ApplicationID)
	if err != nil {
		return Match{}, err
	}
	if a.Status != ApplicationAccepted {
		return Match{}, &InvalidTransitionError{
			Kind: KindApplication, Action: "match", Current: a.Status,
			Message: fmt.Sprintf("Application must be accepted before matching (current: %s)",
				a.Status.Label(KindApplication)),
		}
	}
	if p.MentorID == a.ApplicantID {
		return Match{}, invalidf("mentor and mentee must be different users")
	}
	now := s.now().UTC()
	m := Match{
		ID:            ids.New(),
		PublicRef:     ids.NewPublicRef(),
		OpportunityID: a.OpportunityID,
		MentorID:      p.MentorID,
		MenteeID:      a.ApplicantID,
		Status:        MatchPending,
		MatchScore:    p.MatchScore,
		MatchReason:   p.MatchReason,
		MatchedBy:     actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return s.store.CreateMatch(ctx, m)
}

func (s *Service) GetMatch(ctx context.Context, id string) (Match, error) {
	return s.store.GetMatch(ctx, id)
}

// ProposeMatch presents a pending match to the mentee.
func (s *Service) ProposeMatch(ctx context.Context, id string, actor Actor) (Match, error) {
	var out Match
	err := s.transitionMatch(ctx, id, ActionPropose, actor, func(m *Match, ch *Change) error {
		now := s.now().UTC()
		m.ProposedAt = &now
		return nil
	}, &out)
	if err != nil {
		return Match{}, err
	}
	s.notifier.Notify(notify.Notification{
		Template:  TemplateMatchProposed,
		Recipient: out.MenteeID,
		Context:   map[string]string{"match": out.PublicRef},
	})
	return out, nil
}

// AcceptMatch records the mentee's acceptance and notifies the mentor.
func (s *Service) AcceptMatch(ctx context.Context, id string, actor Actor) (Match, error) {
	var out Match
	err := s.transitionMatch(ctx, id, ActionAccept, actor, func(m *Match, ch *Change) error {
		now := s.now().UTC()
		m.AcceptedAt = &now
		return nil
	}, &out)
	if err != nil {
		return Match{}, err
	}
	s.notifier.Notify(notify.Notification{
		Template:  TemplateMatchAccepted,
		Recipient: out.MentorID,
		Context:   map[string]string{"match": out.PublicRef},
	})
	return out, nil
}

// RejectMatch records the mentee's rejection.
func (s *Service) RejectMatch(ctx context.Context, id string, actor Actor) (Match, error) {
	var out Match
	err := s.transitionMatch(ctx, id, ActionReject, actor, nil, &out)
	return out, err
}

// StartMatch activates an accepted match. Either party may start it.
func (s *Service) StartMatch(ctx context.Context, id string, actor Actor) (Match, error) {
	var out Match
	err := s.transitionMatch(ctx, id, ActionStart, actor, func(m *Match, ch *Change) error {
		now := s.now().UTC()
		m.StartedAt = &now
		return nil
	}, &out)
	return out, err
}

// CompleteMatch closes out an active match.
func (s *Service) CompleteMatch(ctx context.Context, id string, actor Actor) (Match, error) {
	var out Match
	err := s.transitionMatch(ctx, id, ActionComplete, actor, func(m *Match, ch *Change) error {
		now := s.now().UTC()
		m.CompletedAt = &now
		return nil
	}, &out)
	if err != nil {
		return Match{}, err
	}
	s.notifier.Notify(notify.Notification{
		Template:  TemplateMatchCompleted,
		Recipient: out.MenteeID,
		Context:   map[string]string{"match": out.PublicRef},
	})
	return out, nil
}

// TerminateMatch ends an active match early. Staff only, reason required.
func (s *Service) TerminateMatch(ctx context.Context, id, reason string, actor Actor) (Match, error) {
	if strings.TrimSpace(reason) == "" {
		return Match{}, invalidf("Termination reason is required")
	}
	var out Match
	err := s.transitionMatch(ctx, id, ActionTerminate, actor, func(m *Match, ch *Change) error {
		now := s.now().UTC()
		m.TerminatedAt = &now
		m.TerminationReason = reason
		return nil
	}, &out)
	return out, err
}

func (s *Service) transitionMatch(ctx context.Context, id string, action Action, actor Actor,
	mutate func(*Match, *Change) error, out *Match) error {
	m, err := s.store.GetMatch(ctx, id)
	if err != nil {
		s.observe(KindMatch, action, err)
		return err
	}
	next, err := matchMachine.Eval(&m, m.Status, action, actor)
	if err != nil {
		s.observe(KindMatch, action, err)
		return err
	}
	from := m.Status
	m.Status = next
	m.UpdatedAt = s.now().UTC()

	ch := Change{From: from, Match: &m}
	if mutate != nil {
		if err := mutate(&m, &ch); err != nil {
			s.observe(KindMatch, action, err)
			return err
		}
	}
	if err := s.store.ApplyChange(ctx, ch); err != nil {
		s.observe(KindMatch, action, err)
		return err
	}
	s.observe(KindMatch, action, nil)
	audit.Transition(ctx, string(KindMatch), m.ID, string(action), string(from), string(next))
	*out = m
	return nil
}

// --- sessions ---

// ScheduleSessionParams carries input for a new scheduled session.
type ScheduleSessionParams struct {
	MatchID        string
	Kind           SessionKind
	Title          string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
}

// ScheduleSession creates a session under an active match, or a standalone
// partnership meeting when Kind is meeting.
func (s *Service) ScheduleSession(ctx context.Context, p ScheduleSessionParams, actor Actor) (Session, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Session{}, invalidf("title is required")
	}
	if !p.ScheduledEnd.After(p.ScheduledStart) {
		return Session{}, invalidf("scheduled_end must be after scheduled_start")
	}
	if p.Kind == "" {
		p.Kind = SessionKindSession
	}
	if p.Kind == SessionKindSession {
		m, err := s.store.GetMatch(ctx, p.MatchID)
		if err != nil {
			return Session{}, err
		}
		if !m.Party(actor.UserID) && !actor.IsStaff() {
			return Session{}, forbidden("Only a match participant can schedule sessions")
		}
	} else if !actor.IsStaff() {
		return Session{}, forbidden("Only staff can schedule meetings")
	}
	now := s.now().UTC()
	sess := Session{
		ID:             ids.New(),
		PublicRef:      ids.NewPublicRef(),
		MatchID:        p.MatchID,
		Kind:           p.Kind,
		Title:          p.Title,
		Status:         SessionScheduled,
		ScheduledStart: p.ScheduledStart,
		ScheduledEnd:   p.ScheduledEnd,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Kind == SessionKindMeeting {
		sess.MatchID = ""
	}
	return s.store.CreateSession(ctx, sess)
}

func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.store.GetSession(ctx, id)
}

// ConfirmSession confirms attendance for a scheduled session.
func (s *Service) ConfirmSession(ctx context.Context, id string, actor Actor) (Session, error) {
	return s.transitionSession(ctx, id, ActionConfirm, actor, nil)
}

// StartSession marks the session in progress and records the actual start.
func (s *Service) StartSession(ctx context.Context, id string, actor Actor) (Session, error) {
	return s.transitionSession(ctx, id, ActionStart, actor, func(sess *Session, ch *Change) error {
		now := s.now().UTC()
		sess.ActualStart = &now
		return nil
	})
}

// CompleteSession completes the session and counts the meeting on the parent
// match exactly once; a second complete is rejected by the table, so the
// counter cannot double-increment.
func (s *Service) CompleteSession(ctx context.Context, id string, actor Actor) (Session, error) {
	return s.transitionSession(ctx, id, ActionComplete, actor, func(sess *Session, ch *Change) error {
		now := s.now().UTC()
		sess.ActualEnd = &now
		if sess.ActualStart == nil {
			// Documented fallback: assume the default duration rather than
			// losing the start time entirely.
			start := now.Add(-defaultSessionDuration)
			sess.ActualStart = &start
		}
		if sess.MatchID != "" {
			ch.Counters = append(ch.Counters, CounterDelta{
				Kind:     KindMatch,
				EntityID: sess.MatchID,
				Field:    CounterMeetingsHeld,
				Delta:    1,
			})
		}
		return nil
	})
}

// CancelSession cancels a not-yet-finished session.
func (s *Service) CancelSession(ctx context.Context, id string, actor Actor) (Session, error) {
	return s.transitionSession(ctx, id, ActionCancel, actor, nil)
}

// RescheduleSession moves the session to new times.
func (s *Service) RescheduleSession(ctx context.Context, id string, start, end time.Time, actor Actor) (Session, error) {
	if !end.After(start) {
		return Session{}, invalidf("scheduled_end must be after scheduled_start")
	}
	return s.transitionSession(ctx, id, ActionReschedule, actor, func(sess *Session, ch *Change) error {
		sess.ScheduledStart = start
		sess.ScheduledEnd = end
		return nil
	})
}

func (s *Service) transitionSession(ctx context.Context, id string, action Action, actor Actor,
	mutate func(*Session, *Change) error) (Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		s.observe(KindSession, action, err)
		return Session{}, err
	}
	if err := s.sessionActorAllowed(ctx, sess, actor); err != nil {
		s.observe(KindSession, action, err)
		return Session{}, err
	}
	next, err := sessionMachine.Eval(&sess, sess.Status, action, actor)
	if err != nil {
		s.observe(KindSession, action, err)
		return Session{}, err
	}
	from := sess.Status
	sess.Status = next
	sess.UpdatedAt = s.now().UTC()

	ch := Change{From: from, Session: &sess}
	if mutate != nil {
		if err := mutate(&sess, &ch); err != nil {
			s.observe(KindSession, action, err)
			return Session{}, err
		}
	}
	if err := s.store.ApplyChange(ctx, ch); err != nil {
		s.observe(KindSession, action, err)
		return Session{}, err
	}
	s.observe(KindSession, action, nil)
	audit.Transition(ctx, string(KindSession), sess.ID, string(action), string(from), string(next))
	return sess, nil
}

// sessionActorAllowed resolves the parent match to decide who may act on the
// session. Meetings have no parent; staff or the creator may act.
func (s *Service) sessionActorAllowed(ctx context.Context, sess Session, actor Actor) error {
	if actor.IsStaff() {
		return nil
	}
	if sess.Kind == SessionKindMeeting {
		if actor.UserID != "" && actor.UserID == sess.CreatedBy {
			return nil
		}
		return forbidden("Permission denied")
	}
	m, err := s.store.GetMatch(ctx, sess.MatchID)
	if err != nil {
		return err
	}
	if !m.Party(actor.UserID) {
		return forbidden("Permission denied")
	}
	return nil
}

// --- time logs ---

// LogTimeParams carries volunteer input for a new time log.
type LogTimeParams struct {
	MatchID string
	Date    time.Time
	Hours   float64
}

// LogTime records pending volunteer hours against an active assignment. The
// hours reach the assignment's counter only on approval.
func (s *Service) LogTime(ctx context.Context, p LogTimeParams, actor Actor) (TimeLog, error) {
	if p.Hours <= 0 || p.Hours > 24 {
		return TimeLog{}, invalidf("hours must be between 0 and 24")
	}
	m, err := s.store.GetMatch(ctx, p.MatchID)
	if err != nil {
		return TimeLog{}, err
	}
	if actor.UserID != m.MenteeID {
		return TimeLog{}, forbidden("Only the assigned volunteer can log time")
	}
	if m.Status != MatchActive {
		return TimeLog{}, &InvalidTransitionError{
			Kind: KindMatch, Action: "log_time", Current: m.Status,
			Message: fmt.Sprintf("Cannot log time for assignment in %s status",
				m.Status.Label(KindMatch)),
		}
	}
	now := s.now().UTC()
	tl := TimeLog{
		ID:          ids.New(),
		PublicRef:   ids.NewPublicRef(),
		MatchID:     m.ID,
		VolunteerID: actor.UserID,
		Status:      TimeLogPending,
		Date:        p.Date,
		Hours:       p.Hours,
		CreatedAt:   now,
	}
	return s.store.CreateTimeLog(ctx, tl)
}

func (s *Service) GetTimeLog(ctx context.Context, id string) (TimeLog, error) {
	return s.store.GetTimeLog(ctx, id)
}

// ApproveTimeLog approves pending hours and adds them to the assignment.
func (s *Service) ApproveTimeLog(ctx context.Context, id string, actor Actor) (TimeLog, error) {
	return s.transitionTimeLog(ctx, id, ActionApprove, actor, func(tl *TimeLog, ch *Change) error {
		now := s.now().UTC()
		tl.ApprovedBy = actor.UserID
		tl.ApprovedAt = &now
		ch.Counters = append(ch.Counters, CounterDelta{
			Kind:     KindMatch,
			EntityID: tl.MatchID,
			Field:    CounterHoursLogged,
			Delta:    tl.Hours,
		})
		return nil
	})
}

// RejectTimeLog rejects pending hours. A reason is required.
func (s *Service) RejectTimeLog(ctx context.Context, id, reason string, actor Actor) (TimeLog, error) {
	if strings.TrimSpace(reason) == "" {
		return TimeLog{}, invalidf("Rejection reason is required")
	}
	return s.transitionTimeLog(ctx, id, ActionReject, actor, func(tl *TimeLog, ch *Change) error {
		now := s.now().UTC()
		tl.ApprovedBy = actor.UserID
		tl.ApprovedAt = &now
		tl.RejectionReason = reason
		return nil
	})
}

func (s *Service) transitionTimeLog(ctx context.Context, id string, action Action, actor Actor,
	mutate func(*TimeLog, *Change) error) (TimeLog, error) {
	tl, err := s.store.GetTimeLog(ctx, id)
	if err != nil {
		s.observe(KindTimeLog, action, err)
		return TimeLog{}, err
	}
	if !actor.IsStaff() {
		m, err := s.store.GetMatch(ctx, tl.MatchID)
		if err != nil {
			s.observe(KindTimeLog, action, err)
			return TimeLog{}, err
		}
		if actor.UserID != m.MentorID {
			err := forbidden("Permission denied")
			s.observe(KindTimeLog, action, err)
			return TimeLog{}, err
		}
	}
	next, err := timeLogMachine.Eval(&tl, tl.Status, action, actor)
	if err != nil {
		s.observe(KindTimeLog, action, err)
		return TimeLog{}, err
	}
	from := tl.Status
	tl.Status = next

	ch := Change{From: from, TimeLog: &tl}
	if mutate != nil {
		if err := mutate(&tl, &ch); err != nil {
			s.observe(KindTimeLog, action, err)
			return TimeLog{}, err
		}
	}
	if err := s.store.ApplyChange(ctx, ch); err != nil {
		s.observe(KindTimeLog, action, err)
		return TimeLog{}, err
	}
	s.observe(KindTimeLog, action, nil)
	audit.Transition(ctx, string(KindTimeLog), tl.ID, string(action), string(from), string(next))
	return tl, nil
}

// --- goals ---

// CreateGoalParams carries input for a new goal under a match.
type CreateGoalParams struct {
	MatchID string
	Title   string
}

func (s *Service) CreateGoal(ctx context.Context, p CreateGoalParams, actor Actor) (Goal, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Goal{}, invalidf("title is required")
	}
	m, err := s.store.GetMatch(ctx, p.MatchID)
	if err != nil {
		return Goal{}, err
	}
	if !m.Party(actor.UserID) && !actor.IsStaff() {
		return Goal{}, forbidden("Only a match participant can create goals")
	}
	now := s.now().UTC()
	g := Goal{
		ID:        ids.New(),
		PublicRef: ids.NewPublicRef(),
		MatchID:   m.ID,
		Title:     p.Title,
		Status:    GoalNotStarted,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.store.CreateGoal(ctx, g)
}

func (s *Service) GetGoal(ctx context.Context, id string) (Goal, error) {
	return s.store.GetGoal(ctx, id)
}

// SetGoalProgress updates a goal's progress and derives its status. Reaching
// 100 completes the goal and counts the milestone on the parent match exactly
// once; a completed goal refuses further updates, so the milestone can never
// be double-counted or silently uncounted.
func (s *Service) SetGoalProgress(ctx context.Context, id string, value float64, actor Actor) (Goal, error) {
	if value < 0 || value > 100 {
		return Goal{}, invalidf("progress_percentage must be a number between 0 and 100")
	}
	g, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return Goal{}, err
	}
	m, err := s.store.GetMatch(ctx, g.MatchID)
	if err != nil {
		return Goal{}, err
	}
	if !m.Party(actor.UserID) && !actor.IsStaff() {
		return Goal{}, forbidden("Permission denied")
	}
	if g.Status == GoalCompleted {
		return Goal{}, &InvalidTransitionError{
			Kind: KindGoal, Action: "progress", Current: g.Status,
			Message: "Goal is already completed",
		}
	}

	from := g.Status
	now := s.now().UTC()
	g.ProgressPercentage = value
	g.UpdatedAt = now

	ch := Change{From: from, Goal: &g}
	switch {
	case value == 0:
		g.Status = GoalNotStarted
	case value < 100:
		g.Status = GoalInProgress
		if g.StartDate == nil {
			g.StartDate = &now
		}
	default:
		g.Status = GoalCompleted
		g.CompletionDate = &now
		if g.StartDate == nil {
			g.StartDate = &now
		}
		ch.Counters = append(ch.Counters, CounterDelta{
			Kind:     KindMatch,
			EntityID: g.MatchID,
			Field:    CounterMilestones,
			Delta:    1,
		})
	}
	if err := s.store.ApplyChange(ctx, ch); err != nil {
		s.observe(KindGoal, "progress", err)
		return Goal{}, err
	}
	s.observe(KindGoal, "progress", nil)
	audit.Transition(ctx, string(KindGoal), g.ID, "progress", string(from), string(g.Status))
	return g, nil
}

// Reconcile recomputes every derived counter from source-of-truth rows.
func (s *Service) Reconcile(ctx context.Context) error {
	return s.store.RecountAggregates(ctx)
}
