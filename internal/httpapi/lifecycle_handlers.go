package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"yescholars.org/internal/lifecycle"
)

type createOpportunityRequest struct {
	Kind                string    `json:"kind" validate:"required,oneof=program mentorship volunteer"`
	Title               string    `json:"title" validate:"required,min=1,max=200"`
	Slug                string    `json:"slug" validate:"omitempty,max=200"`
	PositionsAvailable  int       `json:"positions_available" validate:"required,gt=0"`
	OverbookAllowed     bool      `json:"overbook_allowed"`
	ApplicationStart    time.Time `json:"application_start" validate:"required"`
	ApplicationDeadline time.Time `json:"application_deadline" validate:"required"`
}

type applyRequest struct {
	Draft bool `json:"draft"`
}

type decideRequest struct {
	Accept bool     `json:"accept"`
	Reason string   `json:"reason" validate:"omitempty,max=2000"`
	Score  *float64 `json:"score" validate:"omitempty,gte=0,lte=100"`
	Notes  string   `json:"notes" validate:"omitempty,max=5000"`
}

type createMatchRequest struct {
	ApplicationID string  `json:"application_id" validate:"required"`
	MentorID      string  `json:"mentor_id" validate:"required"`
	MatchScore    float64 `json:"match_score" validate:"gte=0,lte=100"`
	MatchReason   string  `json:"match_reason" validate:"omitempty,max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type scheduleSessionRequest struct {
	MatchID        string    `json:"match_id" validate:"omitempty"`
	Kind           string    `json:"kind" validate:"omitempty,oneof=session meeting"`
	Title          string    `json:"title" validate:"required,min=1,max=200"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required"`
}

type rescheduleRequest struct {
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required"`
}

type createGoalRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

type progressRequest struct {
	Progress float64 `json:"progress_percentage" validate:"gte=0,lte=100"`
}

type logTimeRequest struct {
	Date  time.Time `json:"date" validate:"required"`
	Hours float64   `json:"hours" validate:"required,gt=0,lte=24"`
}

// --- opportunities ---

func (a *API) createOpportunity(w http.ResponseWriter, r *http.Request) {
	var req createOpportunityRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	o, err := a.svc.CreateOpportunity(r.Context(), lifecycle.CreateOpportunityParams{
		Kind:                lifecycle.OpportunityKind(req.Kind),
		Title:               req.Title,
		Slug:                req.Slug,
		PositionsAvailable:  req.PositionsAvailable,
		OverbookAllowed:     req.OverbookAllowed,
		ApplicationStart:    req.ApplicationStart,
		ApplicationDeadline: req.ApplicationDeadline,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) getOpportunity(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.GetOpportunity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) opportunityAction(fn func(context.Context, string, lifecycle.Actor) (lifecycle.Opportunity, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

// --- applications ---

func (a *API) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	app, err := a.svc.Apply(r.Context(), lifecycle.ApplyParams{
		OpportunityID: chi.URLParam(r, "id"),
		Draft:         req.Draft,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (a *API) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := a.svc.GetApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (a *API) applicationAction(fn func(context.Context, string, lifecycle.Actor) (lifecycle.Application, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

func (a *API) decideApplication(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	app, err := a.svc.DecideApplication(r.Context(), chi.URLParam(r, "id"), lifecycle.Decision{
		Accept: req.Accept,
		Reason: req.Reason,
		Score:  req.Score,
		Notes:  req.Notes,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// --- matches ---

func (a *API) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	m, err := a.svc.CreateMatch(r.Context(), lifecycle.CreateMatchParams{
		ApplicationID: req.ApplicationID,
		MentorID:      req.MentorID,
		MatchScore:    req.MatchScore,
		MatchReason:   req.MatchReason,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) getMatch(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.GetMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) matchAction(fn func(context.Context, string, lifecycle.Actor) (lifecycle.Match, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (a *API) terminateMatch(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	m, err := a.svc.TerminateMatch(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- sessions ---

func (a *API) scheduleSession(w http.ResponseWriter, r *http.Request) {
	var req scheduleSessionRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	sess, err := a.svc.ScheduleSession(r.Context(), lifecycle.ScheduleSessionParams{
		MatchID:        req.MatchID,
		Kind:           lifecycle.SessionKind(req.Kind),
		Title:          req.Title,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) sessionAction(fn func(context.Context, string, lifecycle.Actor) (lifecycle.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (a *API) rescheduleSession(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	sess, err := a.svc.RescheduleSession(r.Context(), chi.URLParam(r, "id"),
		req.ScheduledStart, req.ScheduledEnd, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// --- goals ---

func (a *API) createGoal(w http.ResponseWriter, r *http.Request) {
	var req createGoalRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	g, err := a.svc.CreateGoal(r.Context(), lifecycle.CreateGoalParams{
		MatchID: chi.URLParam(r, "id"),
		Title:   req.Title,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) getGoal(w http.ResponseWriter, r *http.Request) {
	g, err := a.svc.GetGoal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) setGoalProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	g, err := a.svc.SetGoalProgress(r.Context(), chi.URLParam(r, "id"), req.Progress, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- time logs ---

func (a *API) logTime(w http.ResponseWriter, r *http.Request) {
	var req logTimeRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	tl, err := a.svc.LogTime(r.Context(), lifecycle.LogTimeParams{
		MatchID: chi.URLParam(r, "id"),
		Date:    req.Date,
		Hours:   req.Hours,
	}, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tl)
}

func (a *API) getTimeLog(w http.ResponseWriter, r *http.Request) {
	tl, err := a.svc.GetTimeLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (a *API) timeLogAction(fn func(context.Context, string, lifecycle.Actor) (lifecycle.TimeLog, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tl, err := fn(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
		if err != nil {
			mapError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tl)
	}
}

func (a *API) rejectTimeLog(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	tl, err := a.svc.RejectTimeLog(r.Context(), chi.URLParam(r, "id"), req.Reason, actorFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}
