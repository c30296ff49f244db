package exercises

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2beens/lifti/internal/telemetry/tracing"
	"github.com/2beens/lifti/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type catalogRepo interface {
	Get(ctx context.Context, id string) (*Exercise, error)
	List(ctx context.Context) ([]Exercise, error)
}

type ListResponse struct {
	Exercises []Exercise `json:"exercises"`
	Total     int        `json:"total"`
}

type Handler struct {
	repo catalogRepo
}

func NewHandler(repo catalogRepo) *Handler {
	return &Handler{
		repo: repo,
	}
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "exercisesHandler.list")
	defer span.End()

	all, err := handler.repo.List(ctx)
	if err != nil {
		log.Errorf("list exercises: %s", err)
		http.Error(w, "failed to list exercises", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(ListResponse{
		Exercises: all,
		Total:     len(all),
	})
	if err != nil {
		log.Errorf("marshal exercises list response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) HandleGetOptions(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "exercisesHandler.getOptions")
	defer span.End()

	all, err := handler.repo.List(ctx)
	if err != nil {
		log.Errorf("get exercise options: %s", err)
		http.Error(w, "failed to get exercise options", http.StatusInternalServerError)
		return
	}

	optionsJson, err := json.Marshal(ExtractOptions(all))
	if err != nil {
		log.Errorf("marshal exercise options response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, optionsJson)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "exercisesHandler.get")
	defer span.End()

	vars := mux.Vars(r)
	id := vars["id"]
	if id == "" {
		http.Error(w, "error, exercise id empty", http.StatusBadRequest)
		return
	}

	exercise, err := handler.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrExerciseNotFound) {
			http.Error(w, "exercise not found", http.StatusNotFound)
			return
		}
		log.Errorf("get exercise %s: %s", id, err)
		http.Error(w, "failed to get exercise", http.StatusInternalServerError)
		return
	}

	exerciseJson, err := json.Marshal(exercise)
	if err != nil {
		log.Errorf("marshal exercise response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, exerciseJson)
}
