package api

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leasewatch/costplane/internal/collect"
	"github.com/leasewatch/costplane/internal/events"
	"github.com/leasewatch/costplane/internal/metrics"
	"github.com/leasewatch/costplane/internal/model"
)

const maxPayloadBytes = 64 << 10

func (s *Server) handleLeaseTerminated(w http.ResponseWriter, r *http.Request) {
	sig, err := events.ParseTermination(r.Body)
	if err != nil {
		metrics.Default().IncCounter("costplane_signals_total", map[string]string{"outcome": "rejected"})
		writeAPIError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	if err := s.scheduler.OnTerminationSignal(r.Context(), sig); err != nil {
		log.Printf("event=signal_schedule_failed lease_id=%s err=%q", sig.LeaseID.UUID, err.Error())
		metrics.Default().IncCounter("costplane_signals_total", map[string]string{"outcome": "error"})
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to schedule collection")
		return
	}

	metrics.Default().IncCounter("costplane_signals_total", map[string]string{"outcome": "scheduled"})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "scheduled",
		"leaseId": sig.LeaseID.UUID,
	})
}

// handleCollect is the HTTP target the deferred trigger invokes when it
// fires. The collection runs synchronously within the request.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}

	payload, err := collect.ParsePayload(raw)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	if err := s.collector.HandleTrigger(r.Context(), payload); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "collection_failed", "collection did not complete; see run ledger")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "completed",
		"leaseId": payload.LeaseID,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	leaseUUID := chi.URLParam(r, "leaseID")
	if err := model.ValidateLeaseUUID(leaseUUID); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "lease id must be uuid-v4")
		return
	}

	runs, err := s.runs.ListRunsByLease(r.Context(), leaseUUID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"leaseId": leaseUUID,
		"runs":    toRunViews(runs),
	})
}

type runView struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Stage      string  `json:"stage"`
	TotalUSD   float64 `json:"totalUsd"`
	StartDate  string  `json:"startDate,omitempty"`
	EndDate    string  `json:"endDate,omitempty"`
	ReportURL  string  `json:"reportUrl,omitempty"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"startedAt"`
	FinishedAt string  `json:"finishedAt,omitempty"`
}

func toRunViews(runs []model.CollectionRun) []runView {
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{
			ID:        r.ID,
			Status:    string(r.Status),
			Stage:     string(r.Stage),
			TotalUSD:  float64(r.TotalCents) / 100,
			StartDate: r.StartDate,
			EndDate:   r.EndDate,
			ReportURL: r.ReportURL,
			Error:     r.ErrorText,
			StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		}
		if r.FinishedAt != nil {
			v.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, v)
	}
	return out
}
