// Package httpapi exposes the lifecycle service over REST. Status changes are
// action endpoints (POST /v1/applications/{id}/withdraw and friends); statuses
// never travel in update payloads.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"yescholars.org/internal/lifecycle"
	"yescholars.org/internal/obs"
)

// ReadyProbe reports readiness; with a database it pings it.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tunes the middleware stack.
type Options struct {
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP layer.
type API struct {
	svc        *lifecycle.Service
	readyProbe ReadyProbe
	version    string
	validate   *validator.Validate
	opts       Options
}

func New(svc *lifecycle.Service, rp ReadyProbe, version string, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 50
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 100
	}
	return &API{
		svc:        svc,
		readyProbe: rp,
		version:    version,
		validate:   validator.New(),
		opts:       opts,
	}
}

// Handler builds the full middleware-wrapped router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.info)
		r.Post("/auth/token", a.authToken)

		r.Route("/opportunities", func(r chi.Router) {
			r.Post("/", a.createOpportunity)
			r.Get("/{id}", a.getOpportunity)
			r.Post("/{id}/publish", a.opportunityAction(a.svc.PublishOpportunity))
			r.Post("/{id}/close", a.opportunityAction(a.svc.CloseOpportunity))
			r.Post("/{id}/archive", a.opportunityAction(a.svc.ArchiveOpportunity))
			r.Post("/{id}/applications", a.apply)
		})

		r.Route("/applications", func(r chi.Router) {
			r.Get("/{id}", a.getApplication)
			r.Post("/{id}/submit", a.applicationAction(a.svc.SubmitApplication))
			r.Post("/{id}/review", a.applicationAction(a.svc.ReviewApplication))
			r.Post("/{id}/shortlist", a.applicationAction(a.svc.ShortlistApplication))
			r.Post("/{id}/decide", a.decideApplication)
			r.Post("/{id}/withdraw", a.applicationAction(a.svc.WithdrawApplication))
		})

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", a.createMatch)
			r.Get("/{id}", a.getMatch)
			r.Post("/{id}/propose", a.matchAction(a.svc.ProposeMatch))
			r.Post("/{id}/accept", a.matchAction(a.svc.AcceptMatch))
			r.Post("/{id}/reject", a.matchAction(a.svc.RejectMatch))
			r.Post("/{id}/start", a.matchAction(a.svc.StartMatch))
			r.Post("/{id}/complete", a.matchAction(a.svc.CompleteMatch))
			r.Post("/{id}/terminate", a.terminateMatch)
			r.Post("/{id}/goals", a.createGoal)
			r.Post("/{id}/time-logs", a.logTime)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", a.scheduleSession)
			r.Get("/{id}", a.getSession)
			r.Post("/{id}/confirm", a.sessionAction(a.svc.ConfirmSession))
			r.Post("/{id}/start", a.sessionAction(a.svc.StartSession))
			r.Post("/{id}/complete", a.sessionAction(a.svc.CompleteSession))
			r.Post("/{id}/cancel", a.sessionAction(a.svc.CancelSession))
			r.Post("/{id}/reschedule", a.rescheduleSession)
		})

		r.Route("/time-logs", func(r chi.Router) {
			r.Get("/{id}", a.getTimeLog)
			r.Post("/{id}/approve", a.timeLogAction(a.svc.ApproveTimeLog))
			r.Post("/{id}/reject", a.rejectTimeLog)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/{id}", a.getGoal)
			r.Post("/{id}/progress", a.setGoalProgress)
		})
	})

	var h http.Handler = r
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitRPS)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- infra handlers ---

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "yes-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "yes-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) && len(verr) > 0 {
			f := verr[0]
			writeError(w, http.StatusBadRequest,
				strings.ToLower(f.Field())+" failed "+f.Tag()+" validation")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

// mapError translates the lifecycle error taxonomy to HTTP status codes.
func mapError(w http.ResponseWriter, err error) {
	var ite *lifecycle.InvalidTransitionError
	var ve *lifecycle.ValidationError
	switch {
	case errors.As(err, &ite):
		writeError(w, http.StatusBadRequest, ite.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, lifecycle.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, lifecycle.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, lifecycle.ErrCapacityFull):
		writeError(w, http.StatusConflict, "no positions available")
	case errors.Is(err, lifecycle.ErrStale):
		writeError(w, http.StatusConflict, "entity changed, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
