// Package httpapi exposes the REST API over the application services.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/flowmesh/flowmesh/internal/app"
	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/metrics"
	"github.com/flowmesh/flowmesh/internal/app/services/engine"
	"github.com/flowmesh/flowmesh/internal/app/services/scheduler"
	"github.com/flowmesh/flowmesh/internal/app/services/webhooks"
	"github.com/flowmesh/flowmesh/internal/app/services/workflows"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/node-types", h.nodeTypes).Methods(http.MethodGet)

	r.HandleFunc("/workflows", h.createWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflows", h.listWorkflows).Methods(http.MethodGet)
	r.HandleFunc("/workflows/{id}", h.getWorkflow).Methods(http.MethodGet)
	r.HandleFunc("/workflows/{id}", h.updateWorkflow).Methods(http.MethodPut)
	r.HandleFunc("/workflows/{id}", h.deleteWorkflow).Methods(http.MethodDelete)
	r.HandleFunc("/workflows/{id}/execute", h.executeWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflows/{id}/activate", h.activateWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflows/{id}/deactivate", h.deactivateWorkflow).Methods(http.MethodPost)
	r.HandleFunc("/workflows/{id}/executions", h.listExecutions).Methods(http.MethodGet)
	r.HandleFunc("/executions/{id}", h.getExecution).Methods(http.MethodGet)

	r.PathPrefix("/webhooks/").HandlerFunc(h.webhook)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) nodeTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Registry.Descriptors())
}

func (h *handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := decodeJSON(r.Body, &def); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Workflows.Create(r.Context(), def)
	if err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := h.app.Workflows.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := h.app.Workflows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err, http.StatusNotFound), err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *handler) updateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := decodeJSON(r.Body, &def); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	def.ID = mux.Vars(r)["id"]

	updated, err := h.app.Workflows.Update(r.Context(), def)
	if err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Workflows.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload any
	if r.Body != nil {
		var body struct {
			Data any `json:"data"`
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			payload = body.Data
		}
	}

	result, err := h.app.Workflows.Execute(r.Context(), mux.Vars(r)["id"], payload)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, statusForError(err, http.StatusInternalServerError), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) activateWorkflow(w http.ResponseWriter, r *http.Request) {
	activation, err := h.app.Workflows.Activate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		var perr *scheduler.ParseError
		if errors.As(err, &perr) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, activation)
}

func (h *handler) deactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Workflows.Deactivate(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, statusForError(err, http.StatusBadRequest), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Workflows.Executions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Workflows.Execution(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err, http.StatusNotFound), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// webhook forwards an inbound request to the webhook router. The path seen
// by the router is the remainder after the /webhooks prefix.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/webhooks")

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	var body any
	raw, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	}

	resp, err := h.app.Webhooks.Handle(r.Context(), r.Method, path, headers, body)
	if err != nil {
		if errors.Is(err, webhooks.ErrNotRegistered) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func statusForError(err error, fallback int) int {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, workflows.ErrNameInUse):
		return http.StatusConflict
	case strings.Contains(err.Error(), "not found"):
		return http.StatusNotFound
	default:
		return fallback
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
