package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/podenginelabs/podengine/internal/runstore"
)

type submitRequest struct {
	Topic string `json:"topic"`
}

type runResponse struct {
	RunID         string `json:"run_id"`
	Topic         string `json:"topic,omitempty"`
	Stage         string `json:"stage"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type runDetailResponse struct {
	runResponse
	Timeline []timelineEntry `json:"timeline,omitempty"`
}

type timelineEntry struct {
	Stage   string `json:"stage"`
	Type    string `json:"type"`
	Attempt int    `json:"attempt"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at"`
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.busClient == nil || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleSubmit accepts a topic and starts a run in the background. The
// run outlives the request but not the serve context.
func (r *Runtime) handleSubmit(serveCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body submitRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Topic) == "" {
			writeError(w, http.StatusBadRequest, "topic must not be empty")
			return
		}

		run, err := r.orch.Prepare(req.Context(), body.Topic)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		r.runWG.Add(1)
		go func() {
			defer r.runWG.Done()
			start := time.Now()
			r.metrics.started.Add(serveCtx, 1)
			_, err := r.orch.Execute(serveCtx, run)
			r.metrics.observe(serveCtx, start, false, err)
			if err != nil {
				r.logger.Error("background run failed",
					slog.String("run_id", run.ID), slog.String("error", err.Error()))
			}
		}()

		writeJSON(w, http.StatusAccepted, runResponse{
			RunID: run.ID,
			Topic: run.Topic,
			Stage: string(run.Stage),
		})
	}
}

func (r *Runtime) handleResume(serveCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		runID := req.PathValue("id")

		rec, err := r.store.GetRun(req.Context(), runID)
		if errors.Is(err, runstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		r.runWG.Add(1)
		go func() {
			defer r.runWG.Done()
			start := time.Now()
			r.metrics.started.Add(serveCtx, 1)
			_, err := r.orch.Resume(serveCtx, runID)
			r.metrics.observe(serveCtx, start, true, err)
			if err != nil {
				r.logger.Error("background resume failed",
					slog.String("run_id", runID), slog.String("error", err.Error()))
			}
		}()

		writeJSON(w, http.StatusAccepted, runResponse{
			RunID: rec.ID,
			Topic: rec.Topic,
			Stage: rec.Stage,
		})
	}
}

func (r *Runtime) handleListRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := r.store.ListRuns(req.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, rec := range runs {
		out = append(out, recordResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleGetRun(w http.ResponseWriter, req *http.Request) {
	runID := req.PathValue("id")

	rec, err := r.store.GetRun(req.Context(), runID)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, err := r.store.ListRunEvents(req.Context(), runID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := runDetailResponse{runResponse: recordResponse(*rec)}
	for _, evt := range events {
		resp.Timeline = append(resp.Timeline, timelineEntry{
			Stage:   evt.Stage,
			Type:    evt.Type,
			Attempt: evt.Attempt,
			Detail:  evt.Detail,
			At:      evt.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func recordResponse(rec runstore.RunRecord) runResponse {
	return runResponse{
		RunID:         rec.ID,
		Topic:         rec.Topic,
		Stage:         rec.Stage,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
