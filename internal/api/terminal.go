package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/terminal"
	"github.com/samsyeung/mycontrol/internal/webui"
)

// authorizeTerminal resolves the session named in the path. Failures are
// answered with 404 for unknown sessions and 403 for bad tokens.
func (h *Handler) authorizeTerminal(w http.ResponseWriter, r *http.Request) (*terminal.Session, string, bool) {
	sessionID := mux.Vars(r)["id"]
	token := r.URL.Query().Get("token")

	s, err := h.Terminals.Authorize(sessionID, token)
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, terminal.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		log.Debug().Err(err).Int("status", status).Msg("Terminal request rejected")
		http.Error(w, err.Error(), status)
		return nil, "", false
	}
	return s, token, true
}

func terminalPath(sessionID, suffix, token string) string {
	return "/terminal/" + url.PathEscape(sessionID) + suffix + "?token=" + url.QueryEscape(token)
}

// terminalViewer serves the xterm.js page for a session
func (h *Handler) terminalViewer(w http.ResponseWriter, r *http.Request) {
	s, token, ok := h.authorizeTerminal(w, r)
	if !ok {
		return
	}

	data := webui.TerminalData{
		Title:        fmt.Sprintf("%s - %s terminal", s.Hostname, s.Kind.Label()),
		Hostname:     s.Hostname,
		Kind:         string(s.Kind),
		ReadOnly:     s.Kind == terminal.KindNvtop,
		WebSocketURL: terminalPath(s.ID, "/ws", token),
		CloseURL:     terminalPath(s.ID, "", token),
	}

	reader, err := webui.RenderTerminal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render terminal template")
		http.Error(w, msgInternalError, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)

	log.Info().
		Str("hostname", s.Hostname).
		Str("kind", string(s.Kind)).
		Msg("Served terminal viewer")
}

// terminalSocket upgrades to a websocket and hands it to the broker
func (h *Handler) terminalSocket(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.authorizeTerminal(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("hostname", s.Hostname).Msg("Failed to upgrade to WebSocket")
		return
	}

	if err := h.Terminals.Attach(s, conn); err != nil {
		log.Warn().Err(err).Str("hostname", s.Hostname).Msg("Failed to attach viewer")
		return
	}

	log.Info().
		Str("hostname", s.Hostname).
		Str("kind", string(s.Kind)).
		Msg("Terminal WebSocket connection established")
}

// closeTerminal ends a session from the viewer page
func (h *Handler) closeTerminal(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	s, err := h.Terminals.Authorize(sessionID, r.URL.Query().Get("token"))
	if err != nil {
		writeJSON(w, http.StatusOK, terminal.Outcome{Success: false, Message: err.Error()})
		return
	}

	if err := h.Terminals.Close(s.ID, terminal.ReasonClosed); err != nil {
		writeJSON(w, http.StatusOK, terminal.Outcome{Success: false, Message: err.Error()})
		return
	}

	message := fmt.Sprintf("%s terminal closed", s.Kind.Label())
	h.History.Record(r.Context(), s.Hostname, string(s.Kind)+"_terminal_close", true, message)

	writeJSON(w, http.StatusOK, terminal.Outcome{Success: true, Message: message})
}
