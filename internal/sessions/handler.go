package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/plans"
	"github.com/2beens/lifti/internal/telemetry/tracing"
	"github.com/2beens/lifti/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type planGetter interface {
	Get(ctx context.Context, planID string) (*plans.Plan, error)
}

type StartSessionRequest struct {
	PlanID   string `json:"planId"`
	PlanName string `json:"planName"`
}

type DeleteSessionResponse struct {
	DeletedID string `json:"deletedId"`
}

type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

type Handler struct {
	repo    Repository
	plans   planGetter
	metrics *metrics.Manager
	now     func() time.Time
}

func NewHandler(repo Repository, plansRepo planGetter, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		repo:    repo,
		plans:   plansRepo,
		metrics: metricsManager,
		now:     time.Now,
	}
}

// HandleStart creates a new session at "start workout". The plan name
// is snapshotted into the session so history survives later plan
// renames and deletions.
func (handler *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.start")
	defer span.End()

	var startReq StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&startReq); err != nil {
		log.Warnf("start session, decode request: %s", err)
		http.Error(w, "error, invalid request body", http.StatusBadRequest)
		return
	}

	planName := startReq.PlanName
	if startReq.PlanID != "" {
		plan, err := handler.plans.Get(ctx, startReq.PlanID)
		switch {
		case err == nil:
			planName = plan.Name
		case errors.Is(err, plans.ErrPlanNotFound):
			// the plan may have been deleted in the meantime, start
			// the session with whatever name the client sent
		default:
			handler.writeRepoErr(w, "start session, get plan", err)
			return
		}
	}

	session, err := handler.repo.Upsert(ctx, Session{
		PlanID:    startReq.PlanID,
		PlanName:  planName,
		StartedAt: handler.now().UTC(),
	})
	if err != nil {
		handler.writeRepoErr(w, "start session", err)
		return
	}

	sessionJson, err := json.Marshal(session)
	if err != nil {
		log.Errorf("marshal started session response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, sessionJson, http.StatusCreated)
}

// HandleUpdate overwrites the active session aggregate in place, used
// for pause/resume accounting and per-set progress while training. A
// finished session is an immutable history snapshot and cannot be
// updated anymore.
func (handler *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.update")
	defer span.End()

	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		http.Error(w, "error, session id empty", http.StatusBadRequest)
		return
	}

	var session Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		log.Warnf("update session, decode request: %s", err)
		http.Error(w, "error, invalid request body", http.StatusBadRequest)
		return
	}
	session.ID = sessionID

	stored, err := handler.repo.Get(ctx, sessionID)
	if err != nil {
		handler.writeRepoErr(w, "update session", err)
		return
	}
	if stored.Finished() {
		http.Error(w, "error, session already finished", http.StatusConflict)
		return
	}

	// ending a session goes through the finish endpoint only
	session.EndedAt = nil

	updated, err := handler.repo.Upsert(ctx, session)
	if err != nil {
		handler.writeRepoErr(w, "update session", err)
		return
	}

	sessionJson, err := json.Marshal(updated)
	if err != nil {
		log.Errorf("marshal updated session response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, sessionJson)
}

// HandleFinish finalizes the session: endedAt gets set and the final
// set list is written. After this the session is an immutable history
// snapshot.
func (handler *Handler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.finish")
	defer span.End()

	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		http.Error(w, "error, session id empty", http.StatusBadRequest)
		return
	}

	var session Session
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		log.Warnf("finish session, decode request: %s", err)
		http.Error(w, "error, invalid request body", http.StatusBadRequest)
		return
	}
	session.ID = sessionID

	stored, err := handler.repo.Get(ctx, sessionID)
	if err != nil {
		handler.writeRepoErr(w, "finish session", err)
		return
	}
	if stored.Finished() {
		http.Error(w, "error, session already finished", http.StatusConflict)
		return
	}

	// the client cannot finalize a session with somebody else's
	// timeline, keep the stored start and snapshot fields
	session.PlanID = stored.PlanID
	session.PlanName = stored.PlanName
	session.StartedAt = stored.StartedAt

	endedAt := handler.now().UTC()
	session.EndedAt = &endedAt

	finished, err := handler.repo.Upsert(ctx, session)
	if err != nil {
		handler.writeRepoErr(w, "finish session", err)
		return
	}

	handler.metrics.CounterSessionsFinished.Inc()

	sessionJson, err := json.Marshal(finished)
	if err != nil {
		log.Errorf("marshal finished session response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, sessionJson)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.get")
	defer span.End()

	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		http.Error(w, "error, session id empty", http.StatusBadRequest)
		return
	}

	session, err := handler.repo.Get(ctx, sessionID)
	if err != nil {
		handler.writeRepoErr(w, "get session", err)
		return
	}

	sessionJson, err := json.Marshal(session)
	if err != nil {
		log.Errorf("marshal session response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, sessionJson)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.list")
	defer span.End()

	sessions, err := handler.repo.List(ctx)
	if err != nil {
		handler.writeRepoErr(w, "list sessions", err)
		return
	}

	respJson, err := json.Marshal(ListSessionsResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
	if err != nil {
		log.Errorf("marshal sessions list response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionsHandler.delete")
	defer span.End()

	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		http.Error(w, "error, session id empty", http.StatusBadRequest)
		return
	}

	if err := handler.repo.Delete(ctx, sessionID); err != nil {
		handler.writeRepoErr(w, "delete session", err)
		return
	}

	respJson, err := json.Marshal(DeleteSessionResponse{DeletedID: sessionID})
	if err != nil {
		log.Errorf("marshal delete session response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) writeRepoErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, drive.ErrAuthExpired):
		log.Warnf("%s: %s", op, err)
		http.Error(w, "auth expired", http.StatusUnauthorized)
	default:
		log.Errorf("%s: %s", op, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
