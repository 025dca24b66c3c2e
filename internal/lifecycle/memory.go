package lifecycle

import (
	"context"
	"sync"
)

// Memory implements Store with in-process concurrency safety. It mirrors the
// Postgres store's guarantees: uniqueness on create, status preconditions and
// capacity guards on ApplyChange, all under one lock so a unit of work is
// atomic with respect to other callers.
type Memory struct {
	mu sync.RWMutex

	opportunities map[string]*Opportunity
	applications  map[string]*Application
	matches       map[string]*Match
	sessions      map[string]*Session
	timeLogs      map[string]*TimeLog
	goals         map[string]*Goal
	participants  map[string]*Participant

	// uniq... mirror the database unique constraints.
	uniqApplications map[appKey]string   // (opportunity, applicant) -> application id
	uniqMatches      map[matchKey]string // (opportunity, mentor, mentee) -> match id
}

type appKey struct {
	opportunityID string
	applicantID   string
}

type matchKey struct {
	opportunityID string
	mentorID      string
	menteeID      string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		opportunities:    make(map[string]*Opportunity),
		applications:     make(map[string]*Application),
		matches:          make(map[string]*Match),
		sessions:         make(map[string]*Session),
		timeLogs:         make(map[string]*TimeLog),
		goals:            make(map[string]*Goal),
		participants:     make(map[string]*Participant),
		uniqApplications: make(map[appKey]string),
		uniqMatches:      make(map[matchKey]string),
	}
}

func (s *Memory) CreateOpportunity(_ context.Context, o Opportunity) (Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.opportunities[o.ID]; ok {
		return Opportunity{}, ErrConflict
	}
	cp := o
	s.opportunities[o.ID] = &cp
	return o, nil
}

func (s *Memory) GetOpportunity(_ context.Context, id string) (Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.opportunities[id]
	if !ok {
		return Opportunity{}, ErrNotFound
	}
	return *o, nil
}

func (s *Memory) CreateApplication(_ context.Context, a Application) (Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opportunities[a.OpportunityID]
	if !ok {
		return Application{}, ErrNotFound
	}
	key := appKey{a.OpportunityID, a.ApplicantID}
	if _, dup := s.uniqApplications[key]; dup {
		return Application{}, ErrConflict
	}
	cp := a
	s.applications[a.ID] = &cp
	s.uniqApplications[key] = a.ID
	o.ApplicationsCount++
	return a, nil
}

func (s *Memory) GetApplication(_ context.Context, id string) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applications[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return *a, nil
}

func (s *Memory) CreateMatch(_ context.Context, m Match) (Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := matchKey{m.OpportunityID, m.MentorID, m.MenteeID}
	if _, dup := s.uniqMatches[key]; dup {
		return Match{}, ErrConflict
	}
	cp := m
	s.matches[m.ID] = &cp
	s.uniqMatches[key] = m.ID
	return m, nil
}

func (s *Memory) GetMatch(_ context.Context, id string) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return Match{}, ErrNotFound
	}
	return *m, nil
}

func (s *Memory) CreateSession(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.MatchID != "" {
		if _, ok := s.matches[sess.MatchID]; !ok {
			return Session{}, ErrNotFound
		}
	}
	cp := sess
	s.sessions[sess.ID] = &cp
	return sess, nil
}

func (s *Memory) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *Memory) CreateTimeLog(_ context.Context, t TimeLog) (TimeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[t.MatchID]; !ok {
		return TimeLog{}, ErrNotFound
	}
	cp := t
	s.timeLogs[t.ID] = &cp
	return t, nil
}

func (s *Memory) GetTimeLog(_ context.Context, id string) (TimeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timeLogs[id]
	if !ok {
		return TimeLog{}, ErrNotFound
	}
	return *t, nil
}

func (s *Memory) CreateGoal(_ context.Context, g Goal) (Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[g.MatchID]; !ok {
		return Goal{}, ErrNotFound
	}
	cp := g
	s.goals[g.ID] = &cp
	return g, nil
}

func (s *Memory) GetGoal(_ context.Context, id string) (Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok {
		return Goal{}, ErrNotFound
	}
	return *g, nil
}

// ApplyChange applies a transition's unit of work. The entity row is replaced
// only if its stored status still equals ch.From; counter deltas and the
// related create happen under the same lock, so a capacity failure leaves the
// entity untouched.
func (s *Memory) ApplyChange(_ context.Context, ch Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before writing anything.
	if err := s.checkPrecondition(ch); err != nil {
		return err
	}
	for _, d := range ch.Counters {
		if err := s.checkCounter(d); err != nil {
			return err
		}
	}

	switch {
	case ch.Opportunity != nil:
		cp := *ch.Opportunity
		// Preserve counters the caller never owns.
		cur := s.opportunities[cp.ID]
		cp.PositionsFilled = cur.PositionsFilled
		cp.ApplicationsCount = cur.ApplicationsCount
		s.opportunities[cp.ID] = &cp
	case ch.Application != nil:
		cp := *ch.Application
		s.applications[cp.ID] = &cp
	case ch.Match != nil:
		cp := *ch.Match
		cur := s.matches[cp.ID]
		cp.MeetingsHeld = cur.MeetingsHeld
		cp.MilestonesCompleted = cur.MilestonesCompleted
		cp.HoursLogged = cur.HoursLogged
		s.matches[cp.ID] = &cp
	case ch.Session != nil:
		cp := *ch.Session
		s.sessions[cp.ID] = &cp
	case ch.TimeLog != nil:
		cp := *ch.TimeLog
		s.timeLogs[cp.ID] = &cp
	case ch.Goal != nil:
		cp := *ch.Goal
		s.goals[cp.ID] = &cp
	}

	for _, d := range ch.Counters {
		s.applyCounter(d)
	}
	if p := ch.Participant; p != nil {
		cp := *p
		s.participants[p.ID] = &cp
	}
	return nil
}

func (s *Memory) checkPrecondition(ch Change) error {
	var current Status
	var ok bool
	switch {
	case ch.Opportunity != nil:
		var o *Opportunity
		o, ok = s.opportunities[ch.Opportunity.ID]
		if ok {
			current = o.Status
		}
	case ch.Application != nil:
		var a *Application
		a, ok = s.applications[ch.Application.ID]
		if ok {
			current = a.Status
		}
	case ch.Match != nil:
		var m *Match
		m, ok = s.matches[ch.Match.ID]
		if ok {
			current = m.Status
		}
	case ch.Session != nil:
		var sess *Session
		sess, ok = s.sessions[ch.Session.ID]
		if ok {
			current = sess.Status
		}
	case ch.TimeLog != nil:
		var t *TimeLog
		t, ok = s.timeLogs[ch.TimeLog.ID]
		if ok {
			current = t.Status
		}
	case ch.Goal != nil:
		var g *Goal
		g, ok = s.goals[ch.Goal.ID]
		if ok {
			current = g.Status
		}
	default:
		return nil
	}
	if !ok {
		return ErrNotFound
	}
	if current != ch.From {
		return ErrStale
	}
	return nil
}

func (s *Memory) checkCounter(d CounterDelta) error {
	switch d.Kind {
	case KindOpportunity:
		o, ok := s.opportunities[d.EntityID]
		if !ok {
			return ErrNotFound
		}
		if d.CapacityGuarded && d.Delta > 0 && !o.OverbookAllowed &&
			o.PositionsFilled+int(d.Delta) > o.PositionsAvailable {
			return ErrCapacityFull
		}
	case KindMatch:
		if _, ok := s.matches[d.EntityID]; !ok {
			return ErrNotFound
		}
	default:
		return ErrNotFound
	}
	return nil
}

func (s *Memory) applyCounter(d CounterDelta) {
	switch d.Kind {
	case KindOpportunity:
		o := s.opportunities[d.EntityID]
		switch d.Field {
		case CounterPositionsFilled:
			o.PositionsFilled += int(d.Delta)
		case CounterApplications:
			o.ApplicationsCount += int(d.Delta)
		}
	case KindMatch:
		m := s.matches[d.EntityID]
		switch d.Field {
		case CounterMeetingsHeld:
			m.MeetingsHeld += int(d.Delta)
		case CounterMilestones:
			m.MilestonesCompleted += int(d.Delta)
		case CounterHoursLogged:
			m.HoursLogged += d.Delta
		}
	}
}

// RecountAggregates rebuilds every derived counter from source rows.
func (s *Memory) RecountAggregates(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.opportunities {
		o.ApplicationsCount = 0
		o.PositionsFilled = 0
	}
	for _, a := range s.applications {
		o, ok := s.opportunities[a.OpportunityID]
		if !ok {
			continue
		}
		o.ApplicationsCount++
		if a.Status == ApplicationAccepted {
			o.PositionsFilled++
		}
	}

	for _, m := range s.matches {
		m.MeetingsHeld = 0
		m.MilestonesCompleted = 0
		m.HoursLogged = 0
	}
	for _, sess := range s.sessions {
		if sess.MatchID == "" || sess.Status != SessionCompleted {
			continue
		}
		if m, ok := s.matches[sess.MatchID]; ok {
			m.MeetingsHeld++
		}
	}
	for _, g := range s.goals {
		if g.Status != GoalCompleted {
			continue
		}
		if m, ok := s.matches[g.MatchID]; ok {
			m.MilestonesCompleted++
		}
	}
	for _, t := range s.timeLogs {
		if t.Status != TimeLogApproved {
			continue
		}
		if m, ok := s.matches[t.MatchID]; ok {
			m.HoursLogged += t.Hours
		}
	}
	return nil
}
