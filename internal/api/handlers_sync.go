package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/invoice-sync/internal/job"
	"github.com/invoice-sync/internal/types"
)

// handleStartSyncJob handles POST /api/companies/{company}/sync/jobs
func (s *Server) handleStartSyncJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
		YearsBack int    `json:"yearsBack,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	direction, err := types.ParseDirection(req.Direction)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	created, err := s.jobService.Start(r.Context(), mux.Vars(r)["company"], direction, req.YearsBack)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, job.NewJobProgress(created))
}

// handleListSyncJobs handles GET /api/companies/{company}/sync/jobs
func (s *Server) handleListSyncJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	jobs, err := s.jobService.ListByCompany(r.Context(), mux.Vars(r)["company"], limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	progress := make([]*job.JobProgress, 0, len(jobs))
	for _, j := range jobs {
		progress = append(progress, job.NewJobProgress(j))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": progress})
}

// handleSyncState handles GET /api/companies/{company}/sync/state
func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	state, err := s.jobService.State(r.Context(), mux.Vars(r)["company"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleGetSyncJob handles GET /api/sync/jobs/{id}
func (s *Server) handleGetSyncJob(w http.ResponseWriter, r *http.Request) {
	progress, err := s.jobService.GetProgress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, progress)
}

// handleTickSyncJob handles POST /api/sync/jobs/{id}/tick
func (s *Server) handleTickSyncJob(w http.ResponseWriter, r *http.Request) {
	ticked, err := s.jobService.Tick(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job.NewJobProgress(ticked))
}

// handleCancelSyncJob handles POST /api/sync/jobs/{id}/cancel
func (s *Server) handleCancelSyncJob(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.jobService.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job.NewJobProgress(cancelled))
}
