package api

import (
	"net/http"
	"strconv"

	"codeberg.org/mutker/trophyctl/internal/alert"
	"codeberg.org/mutker/trophyctl/internal/command"
	"codeberg.org/mutker/trophyctl/internal/errors"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10_000
	maxCommandBytes     = 1 << 16
)

type derivedValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.hub.Clients(),
	})
}

func (h *Handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Frame())
}

func (h *Handler) reading(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")

	reading, ok := h.engine.Frame().Snapshot.Reading(id)
	if !ok {
		err := errors.New().WithData(errors.ErrUnknownSource, id)
		writeJSON(w, http.StatusNotFound, map[string]*errorBody{"error": newErrorBody(err)})
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

func (h *Handler) derived(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Frame().Derived)
}

func (h *Handler) derivedMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	v, err := h.engine.Derive(name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, derivedValue{Name: name, Value: v})
}

func (h *Handler) alerts(w http.ResponseWriter, _ *http.Request) {
	active := h.engine.Active()
	if active == nil {
		active = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Acknowledge(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) modes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Modes())
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request) {
	cmd, err := command.Parse(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, err)
		return
	}

	delta, err := h.engine.Apply(cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, delta)
}

func (h *Handler) readingHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, errors.New().WithData(errors.ErrInvalidArgument, "limit="+raw))
			return
		}
		limit = n
	}

	records, err := h.history.History(r.Context(), chi.URLParam(r, "source"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// serveWS upgrades the connection, registers the client and sends it the
// current frame, alerts and state
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := newClient(h.hub, conn, h.engine.Apply)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	h.hub.Send(client, MessageFrame, h.engine.Frame())
	h.hub.Send(client, MessageAlerts, alert.Changes{Active: h.engine.Active()})
	h.hub.Send(client, MessageState, h.engine.State())
}
