package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"farmhands/internal/app/requester"
	"farmhands/internal/decision"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxRequestBytes = 64 << 10

type GameHandlers struct {
	svc    *requester.Service
	schema *jsonschema.Schema
}

func NewGameHandlers(svc *requester.Service) *GameHandlers {
	return &GameHandlers{svc: svc, schema: mustCompileSchema(decisionRequestSchema)}
}

func (h *GameHandlers) SubmitDecision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			metricDecisionRejectedTotal.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := h.schema.Validate(doc); err != nil {
			metricDecisionRejectedTotal.Add(1)
			log.Debug().Err(err).Msg("decision request rejected by schema")
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		var req decision.Request
		if err := json.Unmarshal(body, &req); err != nil {
			metricDecisionRejectedTotal.Add(1)
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		handle, err := h.svc.SubmitDecision(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, requester.ErrInvalidRequest):
				metricDecisionRejectedTotal.Add(1)
				WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			case errors.Is(err, requester.ErrEnqueueFailed):
				metricDecisionEnqueueErrors.Add(1)
				log.Error().Err(err).Str("agent_id", req.AIAgentID).Msg("enqueue decision failed")
				WriteHTTPError(w, http.StatusInternalServerError, "enqueue_failed")
			default:
				WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			}
			return
		}
		metricDecisionSubmitTotal.Add(1)
		log.Info().Str("agent_id", req.AIAgentID).Str("job_id", handle.JobID).Int64("request_seq", req.RequestSeq).Msg("decision job queued")
		writeJSON(w, http.StatusAccepted, handle)
	}
}

func (h *GameHandlers) JobStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricJobStatusTotal.Add(1)
		resp, err := h.svc.JobStatus(r.Context(), chi.URLParam(r, "jobId"))
		if err != nil {
			switch {
			case errors.Is(err, requester.ErrInvalidRequest):
				WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			case errors.Is(err, requester.ErrJobNotFound):
				WriteHTTPError(w, http.StatusNotFound, "job_not_found")
			default:
				WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *GameHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.svc.Health(r.Context())
		if err != nil {
			metricHealthFailuresTotal.Add(1)
			log.Warn().Err(err).Msg("queue health check failed")
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
