package plans

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/telemetry/tracing"
	"github.com/2beens/lifti/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type DeletePlanResponse struct {
	DeletedID string `json:"deletedId"`
}

type ListPlansResponse struct {
	Plans []PlanDocument `json:"plans"`
	Total int            `json:"total"`
}

type Handler struct {
	repo      Repository
	projector *Projector
	metrics   *metrics.Manager
}

func NewHandler(repo Repository, projector *Projector, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		repo:      repo,
		projector: projector,
		metrics:   metricsManager,
	}
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "plansHandler.list")
	defer span.End()

	plans, err := handler.repo.List(ctx)
	if err != nil {
		handler.writeRepoErr(w, "list plans", err)
		return
	}

	docs := make([]PlanDocument, 0, len(plans))
	for i := range plans {
		doc, err := handler.projector.ToView(ctx, &plans[i])
		if err != nil {
			handler.writeRepoErr(w, "project plans", err)
			return
		}
		docs = append(docs, *doc)
	}

	respJson, err := json.Marshal(ListPlansResponse{Plans: docs, Total: len(docs)})
	if err != nil {
		log.Errorf("marshal plans list response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "plansHandler.get")
	defer span.End()

	planID := mux.Vars(r)["id"]
	if planID == "" {
		http.Error(w, "error, plan id empty", http.StatusBadRequest)
		return
	}

	plan, err := handler.repo.Get(ctx, planID)
	if err != nil {
		handler.writeRepoErr(w, "get plan", err)
		return
	}

	doc, err := handler.projector.ToView(ctx, plan)
	if err != nil {
		handler.writeRepoErr(w, "project plan", err)
		return
	}

	docJson, err := json.Marshal(doc)
	if err != nil {
		log.Errorf("marshal plan response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, docJson)
}

// HandleUpsert accepts the denormalized UI document, strips it to the
// storage shape, runs the aggregate upsert and responds with the
// re-hydrated, re-projected document.
func (handler *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "plansHandler.upsert")
	defer span.End()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Errorf("upsert plan, read body: %s", err)
		http.Error(w, "error, failed to read request body", http.StatusBadRequest)
		return
	}

	doc, err := ParsePlanDocument(body)
	if err != nil {
		log.Warnf("upsert plan, parse document: %s", err)
		http.Error(w, "error, invalid plan document", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(doc.Name) == "" {
		http.Error(w, "error, plan name empty", http.StatusBadRequest)
		return
	}

	plan, err := handler.projector.ToStorage(ctx, doc)
	if err != nil {
		handler.writeRepoErr(w, "project plan for storage", err)
		return
	}

	created := plan.ID == ""

	upserted, err := handler.repo.Upsert(ctx, *plan)
	if err != nil {
		handler.writeRepoErr(w, "upsert plan", err)
		return
	}

	handler.metrics.CounterPlanUpserts.Inc()

	respDoc, err := handler.projector.ToView(ctx, upserted)
	if err != nil {
		handler.writeRepoErr(w, "project upserted plan", err)
		return
	}

	respJson, err := json.Marshal(respDoc)
	if err != nil {
		log.Errorf("marshal upserted plan response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if created {
		pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusCreated)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "plansHandler.delete")
	defer span.End()

	planID := mux.Vars(r)["id"]
	if planID == "" {
		http.Error(w, "error, plan id empty", http.StatusBadRequest)
		return
	}

	if err := handler.repo.Delete(ctx, planID); err != nil {
		handler.writeRepoErr(w, "delete plan", err)
		return
	}

	handler.metrics.CounterPlanDeletes.Inc()

	respJson, err := json.Marshal(DeletePlanResponse{DeletedID: planID})
	if err != nil {
		log.Errorf("marshal delete plan response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) writeRepoErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		http.Error(w, "plan not found", http.StatusNotFound)
	case errors.Is(err, drive.ErrAuthExpired):
		log.Warnf("%s: %s", op, err)
		http.Error(w, "auth expired", http.StatusUnauthorized)
	default:
		log.Errorf("%s: %s", op, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
