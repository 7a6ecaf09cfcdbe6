package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/ledger"
)

const defaultLedgerLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "healthy",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Bus != nil {
		body["eventbus"] = s.deps.Bus.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleReady reports ready once a snapshot (live or restored) exists
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Coordinator.Snapshot()
	if snap == nil {
		body := map[string]any{"status": "not_ready"}
		if err := s.deps.Coordinator.LastError(); err != nil {
			body["error"] = err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"entities":   len(snap.Records),
		"fetched_at": snap.FetchedAt,
		"restored":   snap.Restored,
	})
}

func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Mirrors.All())
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	m, found := s.deps.Mirrors.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// turnOnRequest is the body of POST /entities/{id}/turn_on. Brightness is 0..255.
type turnOnRequest struct {
	RGB        *color.RGB `json:"rgb,omitempty"`
	HS         *color.HS  `json:"hs,omitempty"`
	Brightness *int       `json:"brightness,omitempty"`
}

func (req turnOnRequest) intent() (dispatch.Intent, string) {
	in := dispatch.Intent{RGB: req.RGB}
	if req.HS != nil {
		if req.HS.Hue < 0 || req.HS.Hue > 360 {
			return in, "hs.h must be between 0 and 360"
		}
		if req.HS.Saturation < 0 || req.HS.Saturation > 100 {
			return in, "hs.s must be between 0 and 100"
		}
		in.HS = req.HS
	}
	if req.Brightness != nil {
		if *req.Brightness < 0 || *req.Brightness > 255 {
			return in, "brightness must be between 0 and 255"
		}
		b := uint8(*req.Brightness)
		in.Brightness = &b
	}
	return in, ""
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}

	var req turnOnRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	in, problem := req.intent()
	if problem != "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, problem)
		return
	}

	res, err := s.deps.Lights.TurnOn(r.Context(), id, in)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lightResponse(res))
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	id, ok := entityID(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Lights.TurnOff(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lightResponse(res))
}

func lightResponse(res dispatch.Result) map[string]any {
	return map[string]any{
		"via":     res.Via,
		"command": res.Command,
		"mirror":  res.Mirror,
	}
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.deps.Invoker.Names()})
}

func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	res, err := s.deps.Invoker.Invoke(r.Context(), name, body, r.Header.Get("Idempotency-Key"), "api")
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.Refresh(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	snap := s.deps.Coordinator.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"seq":        snap.Seq,
		"entities":   len(snap.Records),
		"fetched_at": snap.FetchedAt,
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "ledger disabled")
		return
	}

	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var entries []*ledger.Entry
	var err error
	switch q := r.URL.Query(); {
	case q.Get("type") != "":
		entries, err = s.deps.Ledger.GetByType(ledger.EventType(q.Get("type")), limit)
	case q.Get("command") != "":
		entries, err = s.deps.Ledger.GetByCommand(q.Get("command"), limit)
	default:
		entries, err = s.deps.Ledger.GetRecent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleRealtime(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Realtime == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "connected": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   true,
		"connected": s.deps.Realtime.Connected(),
		"url":       s.deps.Realtime.URL(),
	})
}

func entityID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "entity id must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeOptional decodes a JSON body that may be empty
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
