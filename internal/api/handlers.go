package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/containers"
	"github.com/samsyeung/mycontrol/internal/history"
	"github.com/samsyeung/mycontrol/internal/power"
	"github.com/samsyeung/mycontrol/internal/terminal"
)

const (
	msgRateLimited    = "Too many requests for this host, try again shortly"
	msgInternalError  = "Internal server error"
	msgMissingFields  = "Missing container_id or action"
	msgHistoryFailure = "Failed to load action history"

	maxHistoryLimit = 500
)

// Action names stored in the history table
const (
	actionPowerOn = "power_on"
)

type dockerActionRequest struct {
	ContainerID string `json:"container_id"`
	Action      string `json:"action"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// hostnameVar returns the decoded {hostname} path segment
func hostnameVar(r *http.Request) string {
	raw := mux.Vars(r)["hostname"]
	hostname, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return hostname
}

// canonicalName maps any accepted alias to the configured host name
func (h *Handler) canonicalName(hostname string) (string, bool) {
	if h.Registry == nil {
		return hostname, true
	}
	host, err := h.Registry.Lookup(hostname)
	if err != nil {
		return "", false
	}
	return host.Name, true
}

// allow applies the per-host rate limit. Unknown hosts are let through and
// rejected by the service itself.
func (h *Handler) allow(hostname string) bool {
	if h.Limiter == nil {
		return true
	}
	name, ok := h.canonicalName(hostname)
	if !ok {
		return true
	}
	return h.Limiter.Allow(name)
}

// record stores an outcome for a configured host
func (h *Handler) record(r *http.Request, hostname, action string, success bool, message string) {
	name, ok := h.canonicalName(hostname)
	if !ok {
		return
	}
	h.History.Record(r.Context(), name, action, success, message)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

func (h *Handler) powerOn(w http.ResponseWriter, r *http.Request) {
	hostname := hostnameVar(r)

	if !h.allow(hostname) {
		log.Warn().Str("hostname", hostname).Msg("Power on rate limited")
		writeJSON(w, http.StatusOK, power.Outcome{Success: false, Message: msgRateLimited})
		return
	}

	outcome := h.Power.PowerOn(r.Context(), hostname)
	h.record(r, hostname, actionPowerOn, outcome.Success, outcome.Message)

	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) startTerminal(kind terminal.Kind) http.HandlerFunc {
	action := string(kind) + "_terminal_start"

	return func(w http.ResponseWriter, r *http.Request) {
		hostname := hostnameVar(r)

		if !h.allow(hostname) {
			log.Warn().Str("hostname", hostname).Str("kind", string(kind)).Msg("Terminal start rate limited")
			writeJSON(w, http.StatusOK, terminal.StartResult{Success: false, Message: msgRateLimited})
			return
		}

		result := h.Terminals.Start(r.Context(), hostname, kind)
		h.record(r, hostname, action, result.Success, result.Message)

		writeJSON(w, http.StatusOK, result)
	}
}

func (h *Handler) stopTerminal(kind terminal.Kind) http.HandlerFunc {
	action := string(kind) + "_terminal_stop"

	return func(w http.ResponseWriter, r *http.Request) {
		hostname := hostnameVar(r)

		outcome := h.Terminals.StopByHost(hostname, kind)
		h.record(r, hostname, action, outcome.Success, outcome.Message)

		writeJSON(w, http.StatusOK, outcome)
	}
}

func (h *Handler) listTerminals(kind terminal.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"terminals": h.Terminals.List(kind),
		})
	}
}

func (h *Handler) gpuInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Inventory.GPUInfo(r.Context(), hostnameVar(r)))
}

func (h *Handler) gpuTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Inventory.GPUTopology(r.Context(), hostnameVar(r)))
}

func (h *Handler) dockerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Inventory.DockerList(r.Context(), hostnameVar(r)))
}

func (h *Handler) dockerAction(w http.ResponseWriter, r *http.Request) {
	hostname := hostnameVar(r)

	var req dockerActionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		log.Debug().Err(err).Str("hostname", hostname).Msg("Malformed docker action body")
		writeJSON(w, http.StatusOK, containers.Outcome{Success: false, Message: msgMissingFields})
		return
	}

	outcome := h.Containers.Act(r.Context(), hostname, req.ContainerID, req.Action)
	if req.ContainerID != "" && req.Action != "" {
		h.record(r, hostname, "docker_"+req.Action, outcome.Success, outcome.Message)
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) uptime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Probe.Uptime(r.Context(), hostnameVar(r)))
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Probe.Ping(r.Context(), hostnameVar(r)))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": h.Probe.Status(r.Context()),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := history.DefaultLimit
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxHistoryLimit)
		}
	}

	entries, err := h.History.List(r.Context(), query.Get("hostname"), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list action history")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": msgHistoryFailure,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"entries": entries,
	})
}

func (h *Handler) dashboards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dashboards": h.Dashboards.List(),
	})
}
