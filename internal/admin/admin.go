// Package admin exposes the host's introspection and dispatch surface over
// HTTP: list instances, fetch resolved configuration, resolve adapter
// bindings, dispatch commands, health and metrics.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apphost-dev/apphost/host"
	"github.com/apphost-dev/apphost/internal/metrics"
	"github.com/apphost-dev/apphost/pkg/logger"
)

// CommandDecoder turns a wire command into the typed command an
// application's router expects. Each application registers its own decoder.
type CommandDecoder func(commandType string, fields json.RawMessage) (any, error)

// Server serves the admin API for one host.
type Server struct {
	host     *host.Host
	log      *logger.Logger
	decoders map[string]CommandDecoder
	registry *metrics.Collector
}

// New creates a Server. decoders maps application names to their command
// decoders; applications without a decoder reject dispatches.
func New(h *host.Host, log *logger.Logger, decoders map[string]CommandDecoder, collector *metrics.Collector) *Server {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	return &Server{host: h, log: log, decoders: decoders, registry: collector}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/instances", s.handleInstances).Methods(http.MethodGet)
	r.HandleFunc("/v1/instances/{identity}/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/v1/instances/{identity}/adapters/{slot}", s.handleAdapter).Methods(http.MethodGet)
	r.HandleFunc("/v1/instances/{identity}/dispatch", s.handleDispatch).Methods(http.MethodPost)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

// response is a JSend-compatible envelope.
type response struct {
	Status  string `json:"status"` // "success", "fail", "error"
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Status: "success", Data: data})
}

func failResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Status: "fail", Data: data})
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Status: "error", Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	successResponse(w, map[string]any{
		"status":    "ok",
		"instances": len(s.host.Instances()),
	})
}

func (s *Server) handleInstances(w http.ResponseWriter, _ *http.Request) {
	successResponse(w, s.host.Instances())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	cfg, err := s.host.Config(identity)
	if err != nil {
		writeHostError(w, err)
		return
	}
	successResponse(w, cfg)
}

func (s *Server) handleAdapter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slot := host.Slot(vars["slot"])
	if !slot.Valid() {
		failResponse(w, http.StatusBadRequest, map[string]string{
			"slot": fmt.Sprintf("unknown adapter slot %q", vars["slot"]),
		})
		return
	}
	spec, err := s.host.ResolveAdapter(vars["identity"], slot)
	if err != nil {
		writeHostError(w, err)
		return
	}
	successResponse(w, spec)
}

// JSONCommand is the wire form of a dispatched command.
type JSONCommand struct {
	Type   string          `json:"type"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]

	var wire JSONCommand
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		failResponse(w, http.StatusBadRequest, map[string]string{"body": "invalid JSON command"})
		return
	}
	if strings.TrimSpace(wire.Type) == "" {
		failResponse(w, http.StatusBadRequest, map[string]string{"type": "command type is required"})
		return
	}

	opts, err := dispatchOptions(r)
	if err != nil {
		failResponse(w, http.StatusBadRequest, map[string]string{"query": err.Error()})
		return
	}

	info, found := s.instanceInfo(identity)
	if !found {
		writeHostError(w, &host.NotStartedError{Identity: identity})
		return
	}
	decoder, ok := s.decoders[info.Application]
	if !ok {
		errorResponse(w, http.StatusNotImplemented,
			fmt.Sprintf("application %q accepts no wire commands", info.Application))
		return
	}
	command, err := decoder(wire.Type, wire.Fields)
	if err != nil {
		failResponse(w, http.StatusBadRequest, map[string]string{"command": err.Error()})
		return
	}

	result, err := s.host.Dispatch(r.Context(), identity, command, opts)
	if err != nil {
		writeHostError(w, err)
		return
	}
	successResponse(w, map[string]any{"result": result})
}

func (s *Server) instanceInfo(identity string) (host.InstanceInfo, bool) {
	for _, info := range s.host.Instances() {
		if info.Identity == identity {
			return info, true
		}
	}
	return host.InstanceInfo{}, false
}

// dispatchOptions parses the caller-facing query parameters. timeout takes
// a duration string or "infinite".
func dispatchOptions(r *http.Request) (host.DispatchOptions, error) {
	var opts host.DispatchOptions
	q := r.URL.Query()

	if raw := q.Get("timeout"); raw != "" {
		if strings.EqualFold(raw, "infinite") {
			opts = host.NoTimeout()
		} else {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return opts, fmt.Errorf("invalid timeout %q", raw)
			}
			opts = host.Timeout(d)
		}
	}
	if raw := q.Get("consistency"); raw != "" {
		switch host.Consistency(raw) {
		case host.ConsistencyEventual, host.ConsistencyStrong:
			opts.Consistency = host.Consistency(raw)
		default:
			return opts, fmt.Errorf("invalid consistency %q", raw)
		}
	}
	if raw := q.Get("returning"); raw != "" {
		switch host.ReturnMode(raw) {
		case host.ReturnNothing, host.ReturnAggregateState, host.ReturnAggregateVersion, host.ReturnExecutionResult:
			opts.Returning = host.ReturnMode(raw)
		default:
			return opts, fmt.Errorf("invalid returning %q", raw)
		}
	}
	return opts, nil
}

// writeHostError maps host failures onto HTTP statuses.
func writeHostError(w http.ResponseWriter, err error) {
	switch {
	case host.IsNotStarted(err):
		failResponse(w, http.StatusNotFound, map[string]string{"instance": err.Error()})
	case host.IsAlreadyStarted(err):
		failResponse(w, http.StatusConflict, map[string]string{"instance": err.Error()})
	case host.IsConfigError(err):
		failResponse(w, http.StatusUnprocessableEntity, map[string]string{"config": err.Error()})
	case host.IsUnregisteredCommand(err):
		failResponse(w, http.StatusBadRequest, map[string]string{"command": err.Error()})
	case host.IsConsistencyTimeout(err):
		errorResponse(w, http.StatusGatewayTimeout, err.Error())
	default:
		errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
