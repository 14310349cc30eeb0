package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/zinitctl/pkg/logging"
	"github.com/psantana5/zinitctl/pkg/resources"
	"github.com/psantana5/zinitctl/pkg/zinit"
)

// Supervisor is the read side of zinit the agent exposes
type Supervisor interface {
	List(ctx context.Context) (map[string]zinit.ServiceState, error)
	Status(ctx context.Context, name string) (zinit.ServiceStatus, error)
}

// Registerer puts a service under supervision
type Registerer interface {
	Register(ctx context.Context, name string) error
}

// UsageFunc samples a process, resources.Snapshot in production
type UsageFunc func(ctx context.Context, pid int) (*resources.ProcessUsage, error)

// NodeFunc samples the host, resources.Node in production
type NodeFunc func(ctx context.Context, interval time.Duration) (*resources.NodeUsage, error)

// ServiceInfo is the body of GET /services/{name}
type ServiceInfo struct {
	zinit.ServiceStatus
	Usage *resources.ProcessUsage `json:"usage,omitempty"`
}

// ServiceSummary is one entry of GET /services
type ServiceSummary struct {
	Name  string             `json:"name"`
	State zinit.ServiceState `json:"state"`
}

// AgentHandler serves the zinitctl agent HTTP API
type AgentHandler struct {
	supervisor Supervisor
	registrar  Registerer
	usage      UsageFunc
	node       NodeFunc
	metrics    http.Handler
	log        *logging.Logger
}

// NewAgentHandler creates an agent handler. metrics may be nil.
func NewAgentHandler(s Supervisor, r Registerer, metrics http.Handler, log *logging.Logger) *AgentHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &AgentHandler{
		supervisor: s,
		registrar:  r,
		usage:      resources.Snapshot,
		node:       resources.Node,
		metrics:    metrics,
		log:        log,
	}
}

// SetUsageFuncs replaces the process and host samplers
func (h *AgentHandler) SetUsageFuncs(usage UsageFunc, node NodeFunc) {
	if usage != nil {
		h.usage = usage
	}
	if node != nil {
		h.node = node
	}
}

// RegisterRoutes registers all API routes
func (h *AgentHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
	r.HandleFunc("/node", h.Node).Methods("GET")

	r.HandleFunc("/services", h.ListServices).Methods("GET")
	r.HandleFunc("/services/{name}", h.GetService).Methods("GET")
	r.HandleFunc("/services/{name}/monitor", h.MonitorService).Methods("POST")
}

// Health reports liveness of the agent itself
func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Node returns host CPU and memory usage
func (h *AgentHandler) Node(w http.ResponseWriter, r *http.Request) {
	usage, err := h.node(r.Context(), 200*time.Millisecond)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ListServices returns every service zinit knows about, sorted by name
func (h *AgentHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.supervisor.List(r.Context())
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	out := make([]ServiceSummary, 0, len(services))
	for _, name := range zinit.SortedNames(services) {
		out = append(out, ServiceSummary{Name: name, State: services[name]})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": out,
		"count":    len(out),
	})
}

// GetService returns status and, when the service runs, its process usage
func (h *AgentHandler) GetService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	status, err := h.supervisor.Status(r.Context(), name)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	info := ServiceInfo{ServiceStatus: status}
	if status.Pid > 0 {
		usage, err := h.usage(r.Context(), status.Pid)
		if err != nil {
			h.log.Debug("Process usage unavailable", map[string]interface{}{
				"service": name,
				"pid":     status.Pid,
				"error":   err,
			})
		} else {
			info.Usage = usage
		}
	}

	writeJSON(w, http.StatusOK, info)
}

// MonitorService registers the service with zinit
func (h *AgentHandler) MonitorService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.registrar.Register(r.Context(), name); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"service": name,
		"status":  "monitored",
	})
}

func statusFor(err error) int {
	switch {
	case zinit.IsInvalidName(err):
		return http.StatusBadRequest
	case zinit.IsRemoteError(err), zinit.IsExitError(err):
		return http.StatusUnprocessableEntity
	case zinit.IsCanceled(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *AgentHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.log.Warn("Request failed", map[string]interface{}{
		"status": status,
		"error":  err,
	})
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
