package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/forPelevin/hlreel/internal/types"
)

const maxRequestBody = 1 << 20

type JobAccepted struct {
	JobID  string       `json:"job_id"`
	Status types.Status `json:"status"`
}

type JobsResponse struct {
	Jobs []types.Job `json:"jobs"`
}

// Event is one message on the job events stream.
type Event struct {
	Event string    `json:"event"`
	Job   types.Job `json:"job"`
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"uptime_s": int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func createJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request")
			return
		}
		// reject what can be rejected before a job exists
		if _, err := req.Normalize(); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, types.ErrNoMatchTarget) {
				status = http.StatusUnprocessableEntity
			}
			WriteError(w, status, err.Error(), types.ErrorCode(err))
			return
		}

		ctx := r.Context()
		job := types.Job{
			ID:        uuid.NewString(),
			MediaID:   req.MediaID,
			Status:    types.StatusQueued,
			Request:   req,
			CreatedAt: time.Now().UTC(),
		}
		if err := cfg.Store.CreateJob(ctx, job); err != nil {
			cfg.Logger.Error().Err(err).Msg("create job")
			WriteError(w, http.StatusInternalServerError, "failed to create job", "internal")
			return
		}
		if err := cfg.Jobs.Submit(ctx, job.ID); err != nil {
			cfg.Logger.Error().Err(err).Str("job_id", job.ID).Msg("submit job")
			res := types.Result{
				JobID:  job.ID,
				Status: types.StatusFailed,
				Error:  &types.ResultError{Code: "internal", Message: "job could not be queued: " + err.Error()},
			}
			if err := cfg.Store.SaveResult(context.WithoutCancel(ctx), job.ID, res); err != nil {
				cfg.Logger.Error().Err(err).Str("job_id", job.ID).Msg("save result")
			}
			WriteError(w, http.StatusServiceUnavailable, "job could not be queued", "unavailable")
			return
		}
		cfg.Logger.Info().Str("job_id", job.ID).Str("media_id", job.MediaID).Msg("job accepted")
		WriteJSON(w, http.StatusAccepted, JobAccepted{JobID: job.ID, Status: job.Status})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be within 1-500", "invalid_request")
				return
			}
			limit = n
		}
		list, err := cfg.Store.ListJobs(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error().Err(err).Msg("list jobs")
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "internal")
			return
		}
		if list == nil {
			list = []types.Job{}
		}
		WriteJSON(w, http.StatusOK, JobsResponse{Jobs: list})
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(cfg, w, r)
		if !ok {
			return
		}
		if job.Status.Terminal() {
			WriteError(w, http.StatusConflict, "job already finished: "+string(job.Status), "conflict")
			return
		}
		ctx := r.Context()
		withdrawn, err := cfg.Jobs.Cancel(ctx, job.ID)
		if err != nil {
			cfg.Logger.Error().Err(err).Str("job_id", job.ID).Msg("cancel job")
			WriteError(w, http.StatusInternalServerError, "failed to cancel job", "internal")
			return
		}
		status := job.Status
		if withdrawn {
			res := types.Result{
				JobID:  job.ID,
				Status: types.StatusCancelled,
				Error:  &types.ResultError{Code: "cancelled", Message: "cancelled before start"},
			}
			err := cfg.Store.SaveResult(ctx, job.ID, res)
			if errors.Is(err, types.ErrJobFinished) {
				WriteError(w, http.StatusConflict, "job already finished", "conflict")
				return
			}
			if err != nil {
				cfg.Logger.Error().Err(err).Str("job_id", job.ID).Msg("save result")
				WriteError(w, http.StatusInternalServerError, "failed to cancel job", "internal")
				return
			}
			status = types.StatusCancelled
		}
		cfg.Logger.Info().Str("job_id", job.ID).Bool("withdrawn", withdrawn).Msg("job cancellation requested")
		WriteJSON(w, http.StatusAccepted, JobAccepted{JobID: job.ID, Status: status})
	}
}

// jobEventsHandler streams the job record over a websocket whenever it
// changes, and closes after the terminal state has been sent.
func jobEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadJob(cfg, w, r)
		if !ok {
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			cfg.Logger.Warn().Err(err).Msg("websocket accept")
			return
		}
		defer conn.CloseNow()

		// reads are discarded; the returned context ends when the client leaves
		ctx := conn.CloseRead(r.Context())
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()

		var last time.Time
		for {
			if !job.UpdatedAt.Equal(last) || job.Status.Terminal() {
				ev := Event{Event: "progress", Job: job}
				if job.Status.Terminal() {
					ev.Event = "done"
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
				last = job.UpdatedAt
			}
			if job.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, string(job.Status))
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			next, err := cfg.Store.GetJob(ctx, job.ID)
			if err != nil {
				conn.Close(websocket.StatusInternalError, "job lookup failed")
				return
			}
			job = next
		}
	}
}

func loadJob(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (types.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := cfg.Store.GetJob(r.Context(), id)
	if errors.Is(err, types.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, "job not found", "not_found")
		return types.Job{}, false
	}
	if err != nil {
		cfg.Logger.Error().Err(err).Str("job_id", id).Msg("get job")
		WriteError(w, http.StatusInternalServerError, "failed to load job", "internal")
		return types.Job{}, false
	}
	return job, true
}
