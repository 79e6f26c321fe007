package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailbatch/internal/auth"
	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/logger"
	"github.com/sungwon/mailbatch/internal/message"
	"github.com/sungwon/mailbatch/internal/pipeline"
)

// Pipeline is the part of the pipeline controller the handlers drive.
type Pipeline interface {
	Submit(ctx context.Context, batch pipeline.Batch, l listener.Listener) (ledger.Result, error)
	Resend(ctx context.Context, batchID string, uniqueIDs []string, l listener.Listener) (ledger.Result, error)
	Pending(ctx context.Context, batchID string) ([]string, error)
}

const maxBodyBytes = 32 << 20

type batchResponse struct {
	BatchID    string               `json:"batch_id"`
	Total      int64                `json:"total"`
	Processed  int64                `json:"processed"`
	Done       bool                 `json:"done"`
	States     map[ledger.State]int `json:"states"`
	FatalError string               `json:"fatal_error,omitempty"`
	CreatedAt  *time.Time           `json:"created_at,omitempty"`
}

func toBatchResponse(batchID string, res ledger.Result) batchResponse {
	resp := batchResponse{
		BatchID:   batchID,
		Total:     res.TotalMailCount(),
		Processed: res.ProcessedMailCount(),
		Done:      res.IsProcessed(),
		States:    make(map[ledger.State]int),
	}
	for s := range res.All() {
		resp.States[s.State]++
	}
	if err := res.PrepareFatalError(); err != nil {
		resp.FatalError = err.Error()
	}
	if c, ok := res.(interface{ CreatedAt() time.Time }); ok {
		created := c.CreatedAt().UTC()
		resp.CreatedAt = &created
	}
	return resp
}

// batchIDOf returns the id of a batch result. Results without one (an
// empty batch) yield "".
func batchIDOf(res ledger.Result) string {
	if b, ok := res.(interface{ BatchID() string }); ok {
		return b.BatchID()
	}
	return ""
}

// SubmitBatchHandler handles POST /batches. The request returns once every
// message is queued for preparation; sending continues in the background.
// An authenticated key's principal replaces the one in the body.
func SubmitBatchHandler(p Pipeline, reg *Registry, defaultFrom string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if details := req.validate(); len(details) > 0 {
			respondValidationErrors(w, details)
			return
		}

		principal := req.Principal
		if kp := auth.PrincipalFromContext(r.Context()); kp != "" {
			principal = kp
		}

		builders := make([]pipeline.Builder, 0, len(req.Messages))
		for _, mr := range req.Messages {
			builders = append(builders, pipeline.BuilderFunc(func(context.Context, string) (*message.Message, error) {
				return mr.build(defaultFrom)
			}))
		}

		res, err := p.Submit(r.Context(), pipeline.Batch{
			Principal: principal,
			Type:      req.Type,
			Builders:  builders,
		}, nil)
		if errors.Is(err, pipeline.ErrStopped) {
			respondError(w, http.StatusServiceUnavailable, "pipeline is shutting down")
			return
		}

		batchID := batchIDOf(res)
		if res != nil && batchID != "" {
			reg.Put(batchID, res)
		}
		if err != nil {
			logger.FromContext(r.Context()).Warn().Err(err).Str("batch_id", batchID).Msg("batch partially queued")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":    "batch submission interrupted",
				"batch_id": batchID,
			})
			return
		}

		logger.FromContext(r.Context()).Info().
			Str("batch_id", batchID).
			Int("messages", len(builders)).
			Str("type", req.Type).
			Msg("batch accepted")
		respondJSON(w, http.StatusAccepted, toBatchResponse(batchID, res))
	}
}

// GetBatchHandler handles GET /batches/{id}: live counts of a batch started
// by this process.
func GetBatchHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, ok := reg.Get(id)
		if !ok {
			respondError(w, http.StatusNotFound, "batch not found")
			return
		}
		respondJSON(w, http.StatusOK, toBatchResponse(id, res))
	}
}

// BatchErrorsHandler handles GET /batches/{id}/errors: the error report of
// a live batch.
func BatchErrorsHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := reg.Get(chi.URLParam(r, "id"))
		if !ok {
			respondError(w, http.StatusNotFound, "batch not found")
			return
		}
		data, err := ledger.SerializeErrors(res)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to serialize errors")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// ListStatusesHandler handles GET /batches/{id}/statuses?state=. Persisted
// statuses are served when a query backend is configured, otherwise those
// of the live batch.
func ListStatusesHandler(reg *Registry, query ledger.Query) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var state ledger.State
		if raw := r.URL.Query().Get("state"); raw != "" {
			parsed, err := ledger.ParseState(raw)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid state")
				return
			}
			state = parsed
		}

		if query != nil {
			statuses, err := query.ListStatuses(r.Context(), id, state)
			if err != nil {
				logger.FromContext(r.Context()).Error().Err(err).Str("batch_id", id).Msg("failed to list statuses")
				respondError(w, http.StatusInternalServerError, "failed to list statuses")
				return
			}
			if statuses == nil {
				statuses = []ledger.Status{}
			}
			respondJSON(w, http.StatusOK, statuses)
			return
		}

		res, ok := reg.Get(id)
		if !ok {
			respondError(w, http.StatusNotFound, "batch not found")
			return
		}
		seq := res.All()
		if state != "" {
			seq = res.ByState(state)
		}
		statuses := ledger.Collect(seq)
		if statuses == nil {
			statuses = []ledger.Status{}
		}
		respondJSON(w, http.StatusOK, statuses)
	}
}

// PendingHandler handles GET /batches/{id}/pending: ids whose content is
// still stored.
func PendingHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ids, err := p.Pending(r.Context(), id)
		if err != nil {
			logger.FromContext(r.Context()).Error().Err(err).Str("batch_id", id).Msg("failed to list pending content")
			respondError(w, http.StatusInternalServerError, "failed to list pending messages")
			return
		}
		if ids == nil {
			ids = []string{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"batch_id": id, "unique_ids": ids})
	}
}

type resendRequest struct {
	UniqueIDs []string `json:"unique_ids"`
}

// ResendHandler handles POST /batches/{id}/resend. Without ids in the body
// every pending message of the batch is resent. A batch whose latest run
// is still being processed answers 409.
func ResendHandler(p Pipeline, reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if res, ok := reg.Get(id); ok && !res.IsProcessed() {
			respondError(w, http.StatusConflict, "batch is still being processed")
			return
		}

		var req resendRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ids := req.UniqueIDs
		if len(ids) == 0 {
			ids, err = p.Pending(r.Context(), id)
			if err != nil {
				logger.FromContext(r.Context()).Error().Err(err).Str("batch_id", id).Msg("failed to list pending content")
				respondError(w, http.StatusInternalServerError, "failed to list pending messages")
				return
			}
		}

		res, err := p.Resend(r.Context(), id, ids, nil)
		if errors.Is(err, pipeline.ErrStopped) {
			respondError(w, http.StatusServiceUnavailable, "pipeline is shutting down")
			return
		}
		if errors.Is(err, pipeline.ErrInFlight) {
			respondError(w, http.StatusConflict, "messages are still being sent")
			return
		}
		if res != nil && batchIDOf(res) != "" {
			reg.Put(id, res)
		}
		if err != nil {
			logger.FromContext(r.Context()).Warn().Err(err).Str("batch_id", id).Msg("resend partially queued")
			respondError(w, http.StatusServiceUnavailable, "resend interrupted")
			return
		}
		respondJSON(w, http.StatusAccepted, toBatchResponse(id, res))
	}
}
