// Package api exposes the pipeline over HTTP: run submission, run
// listing and artifact inspection.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
	"github.com/patchlab-ai/patchlab-go/internal/platform/httpserver"
)

type API struct {
	logger *slog.Logger
	runner *pipeline.Runner
	ledger ledger.RunLedger
}

func New(logger *slog.Logger, runner *pipeline.Runner, runLedger ledger.RunLedger) (*API, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if runLedger == nil {
		return nil, errors.New("run ledger is required")
	}
	return &API{logger: logger, runner: runner, ledger: runLedger}, nil
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", api.handleCreateRun)
	mux.HandleFunc("GET /api/v1/runs", api.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{run_id}/artifacts", api.handleListArtifacts)
}

type runResponse struct {
	RunID       string         `json:"run_id"`
	EntryPoint  string         `json:"entry_point"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	InputRunIDs []string       `json:"input_run_ids,omitempty"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
}

func toRunResponse(run domain.Run) runResponse {
	return runResponse{
		RunID:       run.ID,
		EntryPoint:  run.EntryPoint,
		Parameters:  run.Params,
		InputRunIDs: run.InputRunIDs,
		Status:      string(run.Status),
		Error:       run.Error,
		Metrics:     run.Metrics,
		CreatedAt:   run.CreatedAt,
		EndedAt:     run.EndedAt,
	}
}

type artifactResponse struct {
	RunID      string    `json:"run_id"`
	TarName    string    `json:"tar_name"`
	FolderName string    `json:"folder_name"`
	SHA256     string    `json:"sha256"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

type createRunRequest struct {
	EntryPoint string         `json:"entry_point"`
	Parameters map[string]any `json:"parameters"`
}

// handleCreateRun executes an entry point synchronously and returns the
// terminal run record. Execution failures still carry the FAILED record
// so the caller can chain or inspect by run id.
func (api *API) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.EntryPoint) == "" {
		api.writeError(w, r, http.StatusBadRequest, "entry_point_required")
		return
	}

	run, err := api.runner.Execute(r.Context(), req.EntryPoint, req.Parameters)
	if err != nil {
		status := errorStatus(err)
		httpserver.WriteJSON(w, status, map[string]any{
			"error": err.Error(),
			"run":   toRunResponse(run),
		})
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, toRunResponse(run))
}

func (api *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := ledger.RunFilter{
		EntryPoint: strings.TrimSpace(r.URL.Query().Get("entry_point")),
		Status:     domain.RunStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}

	runs, err := api.ledger.ListRuns(r.Context(), filter)
	if err != nil {
		api.logger.Error("list runs", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.ledger.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.logger.Error("get run", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *API) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if _, err := api.ledger.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "run_not_found")
			return
		}
		api.logger.Error("get run", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	records, err := api.ledger.ListArtifacts(r.Context(), runID)
	if err != nil {
		api.logger.Error("list artifacts", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]artifactResponse, 0, len(records))
	for _, record := range records {
		out = append(out, artifactResponse{
			RunID:      record.RunID,
			TarName:    record.TarName,
			FolderName: record.FolderName,
			SHA256:     record.SHA256,
			SizeBytes:  record.SizeBytes,
			CreatedAt:  record.CreatedAt,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

// errorStatus maps the pipeline error taxonomy onto HTTP statuses:
// validation 400, unresolvable references 404, everything else 500.
func errorStatus(err error) int {
	var validation *pipeline.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	var dataNotFound *pipeline.DataNotFoundError
	var artifactNotFound *pipeline.ArtifactNotFoundError
	var modelNotFound *pipeline.NotFoundError
	if errors.As(err, &dataNotFound) || errors.As(err, &artifactNotFound) || errors.As(err, &modelNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (api *API) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
