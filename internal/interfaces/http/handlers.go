package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fundlens/perspective/internal/engine"
)

// maxBodyBytes bounds request bodies; position batches are large but finite.
const maxBodyBytes = 64 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	res, err := s.engine.Apply(r.Context(), body)
	if err != nil {
		class := engine.Classify(err)
		log.Error().Err(err).Str("class", class).
			Str("request_id", requestID(r.Context())).
			Msg("apply request failed")
		switch class {
		case "input":
			writeError(w, http.StatusBadRequest, err.Error())
		case "canceled":
			writeError(w, http.StatusGatewayTimeout, "request timed out")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Error().Err(err).Msg("failed to encode apply response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
