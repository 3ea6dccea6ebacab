package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/walmart-ingestion/internal/api/middleware"
	"github.com/dvloznov/walmart-ingestion/internal/jobs"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TaskInfo describes one task of the DAG for GET /api/dag.
type TaskInfo struct {
	ID          string   `json:"task_id"`
	Upstream    []string `json:"upstream"`
	Description string   `json:"description,omitempty"`
}

// DAGInfo describes the DAG served by this process.
type DAGInfo struct {
	DAGID  string     `json:"dag_id"`
	Tasks  []TaskInfo `json:"tasks"`
	Levels [][]string `json:"levels"`
}

// DescribeDAG converts a DAG into its API representation.
func DescribeDAG(dag *workflow.DAG) (*DAGInfo, error) {
	levels, err := dag.Levels()
	if err != nil {
		return nil, err
	}
	info := &DAGInfo{DAGID: dag.ID, Levels: levels}
	for _, t := range dag.Tasks() {
		upstream := t.Upstream
		if upstream == nil {
			upstream = []string{}
		}
		info.Tasks = append(info.Tasks, TaskInfo{ID: t.ID, Upstream: upstream, Description: t.Description})
	}
	return info, nil
}

// RunsHandler handles DAG run endpoints.
type RunsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	dag       *DAGInfo
	log       zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, store jobs.JobStore, dag *DAGInfo, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		publisher: publisher,
		store:     store,
		dag:       dag,
		log:       log,
	}
}

// TriggerRequest is the body of POST /api/dag-runs. All fields are optional.
type TriggerRequest struct {
	RunID string            `json:"run_id"`
	Phase string            `json:"phase"`
	Conf  map[string]string `json:"conf"`
}

// TriggerRun handles POST /api/dag-runs
func (h *RunsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	phase, err := pipeline.ParsePhase(req.Phase)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	job := &jobs.DAGRunJob{
		JobID: req.RunID,
		DAGID: h.dag.DAGID,
		Conf:  req.Conf,
	}
	if phase != pipeline.PhaseAll {
		job.Phase = string(phase)
	}

	if err := h.publisher.PublishDAGRun(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrJobExists) {
			middleware.WriteError(w, http.StatusConflict, "Run already exists")
			return
		}
		h.log.Error().Err(err).Msg("Failed to enqueue DAG run")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue DAG run")
		return
	}

	h.log.Info().Str("run_id", job.JobID).Str("phase", string(phase)).Msg("DAG run enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// GetRun handles GET /api/dag-runs/{runID}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	job, err := h.store.GetJob(r.Context(), runID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListRuns handles GET /api/dag-runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status, ok := jobs.ParseStatus(query.Get("status"))
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	filter := jobs.JobFilter{
		DAGID:  h.dag.DAGID,
		Status: status,
		Limit:  defaultListLimit,
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"dag_runs": runs,
		"count":    len(runs),
	})
}

// GetDAG handles GET /api/dag
func (h *RunsHandler) GetDAG(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.dag)
}

// Health handles GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
