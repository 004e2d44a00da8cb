package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/core"
	"github.com/vrsandeep/mailpulse/internal/jobs"
	"github.com/vrsandeep/mailpulse/internal/models"
)

// handleProcessedEmails serves the snapshot observers load before the stream
// opens.
func (s *Server) handleProcessedEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := s.store.ListEmails()
	if err != nil {
		s.logger.Error("listing emails", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to load emails")
		return
	}
	total, err := s.store.CountEmails()
	if err != nil {
		s.logger.Error("counting emails", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to load emails")
		return
	}
	processed, err := s.store.CountProcessed()
	if err != nil {
		s.logger.Error("counting processed emails", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "Failed to load emails")
		return
	}
	RespondWithJSON(w, http.StatusOK, models.SnapshotResponse{
		Emails:          emails,
		TotalEmails:     total,
		ProcessedEmails: processed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB().PingContext(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": core.Version})
}

func (s *Server) handleGetJobsStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.JobManager().GetStatus())
}

// handleRunJob starts a fetch run, the HTTP twin of the start_fetching
// directive.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	err := s.app.JobManager().RunJob(jobs.FetchEmails)
	switch {
	case errors.Is(err, jobs.ErrJobRunning):
		RespondWithError(w, http.StatusConflict, err.Error()) // 409 Conflict if a job is already running
	case err != nil:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	default:
		RespondWithJSON(w, http.StatusAccepted, map[string]string{
			"message": "Job '" + jobs.FetchEmails + "' started successfully.",
		})
	}
}
