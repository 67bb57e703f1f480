package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-i2p/logger"
	"github.com/julienschmidt/httprouter"

	"github.com/go-i2p/go-linkd/lib/pool"
	"github.com/go-i2p/go-linkd/lib/session"
)

const maxBodySize = 64 << 10

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req pool.LinkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	res, err := s.orch.RequestLink(r.Context(), req)
	if err != nil {
		s.writePoolError(w, "(Server).handleLink", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.orch.Delete(r.Context(), ps.ByName("code")); err != nil {
		s.writePoolError(w, "(Server).handleDelete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st, err := s.orch.Status(r.Context(), ps.ByName("code"))
	if err != nil {
		s.writePoolError(w, "(Server).handleStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := s.orch.List(r.Context())
	if err != nil {
		s.writePoolError(w, "(Server).handleList", err)
		return
	}
	if list == nil {
		list = []session.Status{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.reload == nil {
		writeError(w, http.StatusNotImplemented, "reload is not configured")
		return
	}
	if err := s.reload(r.Context()); err != nil {
		s.writePoolError(w, "(Server).handleReload", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps pool and session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, pool.ErrPoolFull), errors.Is(err, pool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrLinkTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pool.ErrAlreadyLinked):
		return http.StatusConflict
	case errors.Is(err, pool.ErrInvalidLink):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTransportFault), errors.Is(err, session.ErrCredentialInvalid):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePoolError(w http.ResponseWriter, at string, err error) {
	code := statusFor(err)

	var rl *pool.RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	fields := logger.Fields{"at": at, "status": code}
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithFields(fields).Warn("request failed")
	} else {
		log.WithError(err).WithFields(fields).Debug("request rejected")
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "writeJSON",
			"reason": err.Error(),
		}).Error("failed to marshal response")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.WithFields(logger.Fields{
			"at":     "writeJSON",
			"reason": err.Error(),
		}).Debug("failed to write response")
	}
}
