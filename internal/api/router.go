package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samsyeung/mycontrol/internal/containers"
	"github.com/samsyeung/mycontrol/internal/dashboards"
	"github.com/samsyeung/mycontrol/internal/history"
	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/inventory"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/internal/power"
	"github.com/samsyeung/mycontrol/internal/probe"
	"github.com/samsyeung/mycontrol/internal/terminal"
)

// ServiceName is reported by the health endpoint
const ServiceName = "mycontrol"

// Prober answers liveness, uptime and fleet status queries
type Prober interface {
	Ping(ctx context.Context, hostname string) probe.Result
	Uptime(ctx context.Context, hostname string) probe.UptimeResult
	Status(ctx context.Context) []probe.HostStatus
}

// PowerController sends chassis power commands
type PowerController interface {
	PowerOn(ctx context.Context, hostname string) power.Outcome
}

// Inventory reads GPU and container inventory from hosts
type Inventory interface {
	GPUInfo(ctx context.Context, hostname string) inventory.Result
	GPUTopology(ctx context.Context, hostname string) inventory.Result
	DockerList(ctx context.Context, hostname string) inventory.Result
}

// ContainerActor starts and stops containers
type ContainerActor interface {
	Act(ctx context.Context, hostname, containerID, action string) containers.Outcome
}

// Terminals manages browser terminal sessions
type Terminals interface {
	Start(ctx context.Context, hostname string, kind terminal.Kind) terminal.StartResult
	StopByHost(hostname string, kind terminal.Kind) terminal.Outcome
	List(kind terminal.Kind) []terminal.Info
	Authorize(id, token string) (*terminal.Session, error)
	Attach(s *terminal.Session, conn *websocket.Conn) error
	Close(id, reason string) error
}

// History records and lists action outcomes
type History interface {
	Record(ctx context.Context, hostname, action string, success bool, message string)
	List(ctx context.Context, hostname string, limit int) ([]history.Entry, error)
}

// DashboardLister lists dashboard links
type DashboardLister interface {
	List() []dashboards.Dashboard
}

// Dependencies are the services the API is built on. History, Dashboards
// and Limiter may be nil.
type Dependencies struct {
	Registry   *hosts.Registry
	Probe      Prober
	Power      PowerController
	Inventory  Inventory
	Containers ContainerActor
	Terminals  Terminals
	History    History
	Dashboards DashboardLister
	Limiter    *HostLimiter
}

// Handler serves the JSON API and the terminal viewer
type Handler struct {
	Dependencies
	upgrader websocket.Upgrader
}

// NewHandler creates an API handler
func NewHandler(deps Dependencies) *Handler {
	if deps.History == nil {
		deps.History = noHistory{}
	}
	if deps.Dashboards == nil {
		deps.Dashboards = dashboards.NewProvider(nil, 0)
	}

	return &Handler{
		Dependencies: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Access is controlled by the per-session token
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter builds the complete HTTP handler with middleware applied
func NewRouter(deps Dependencies) http.Handler {
	return NewHandler(deps).Router()
}

// Router registers every route on a new gorilla/mux router
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	r.Use(metrics.HTTPMetricsMiddleware(metrics.HTTPRequestsTotal, metrics.HTTPRequestDuration))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/power-on/{hostname}", h.powerOn).Methods(http.MethodPost)
	api.HandleFunc("/ssh-terminal/{hostname}", h.startTerminal(terminal.KindSSH)).Methods(http.MethodPost)
	api.HandleFunc("/nvtop-terminal/{hostname}", h.startTerminal(terminal.KindNvtop)).Methods(http.MethodPost)
	api.HandleFunc("/ssh-stop/{hostname}", h.stopTerminal(terminal.KindSSH)).Methods(http.MethodPost)
	api.HandleFunc("/nvtop-stop/{hostname}", h.stopTerminal(terminal.KindNvtop)).Methods(http.MethodPost)
	api.HandleFunc("/ssh-terminals", h.listTerminals(terminal.KindSSH)).Methods(http.MethodGet)
	api.HandleFunc("/nvtop-terminals", h.listTerminals(terminal.KindNvtop)).Methods(http.MethodGet)
	api.HandleFunc("/gpu-info/{hostname}", h.gpuInfo).Methods(http.MethodGet)
	api.HandleFunc("/gpu-topo-info/{hostname}", h.gpuTopology).Methods(http.MethodGet)
	api.HandleFunc("/docker-info/{hostname}", h.dockerInfo).Methods(http.MethodGet)
	api.HandleFunc("/docker-action/{hostname}", h.dockerAction).Methods(http.MethodPost)
	api.HandleFunc("/uptime/{hostname}", h.uptime).Methods(http.MethodGet)
	api.HandleFunc("/ping/{hostname}", h.ping).Methods(http.MethodGet)
	api.HandleFunc("/status", h.status).Methods(http.MethodGet)
	api.HandleFunc("/history", h.history).Methods(http.MethodGet)
	api.HandleFunc("/dashboards", h.dashboards).Methods(http.MethodGet)

	r.HandleFunc("/terminal/{id}", h.terminalViewer).Methods(http.MethodGet)
	r.HandleFunc("/terminal/{id}", h.closeTerminal).Methods(http.MethodDelete)
	r.HandleFunc("/terminal/{id}/ws", h.terminalSocket).Methods(http.MethodGet)

	return recoverPanics(addCORS(r))
}

type noHistory struct {
	history.Nop
}

func (noHistory) List(context.Context, string, int) ([]history.Entry, error) {
	return []history.Entry{}, nil
}
