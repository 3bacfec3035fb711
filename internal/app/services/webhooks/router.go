// Package webhooks maps inbound (method, path) pairs to workflow ids and
// dispatches matching requests to a run callback.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/metrics"
	"github.com/flowmesh/flowmesh/internal/app/storage"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// ErrNotRegistered is returned when no workflow is registered for the
// request's method and path.
var ErrNotRegistered = errors.New("no workflow registered for this webhook")

// Registration describes one live webhook binding.
type Registration struct {
	WorkflowID string `json:"workflowId"`
	Path       string `json:"path"`
	Method     string `json:"method"`
	CreatedAt  int64  `json:"createdAtUnixMs"`
}

// Request is the normalized inbound webhook call handed to the callback.
type Request struct {
	WorkflowID string
	Path       string
	Method     string
	Headers    map[string]string
	Body       any
}

// Response is what the caller should send back over HTTP.
type Response struct {
	Status int
	Body   any
}

// Callback runs the workflow bound to a matched webhook and returns the
// run's output.
type Callback func(ctx context.Context, req Request) (any, error)

// Router holds webhook registrations. Each workflow id owns at most one
// binding; a (method, path) pair resolves to at most one workflow.
type Router struct {
	log   *logger.Logger
	store storage.RegistrationStore

	mu       sync.RWMutex
	byKey    map[string]*Registration // "METHOD path" -> registration
	byID     map[string]*Registration
	fallback Callback
}

// New creates a router. The store may be nil, in which case registrations
// live only in memory.
func New(store storage.RegistrationStore, fallback Callback, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("webhooks")
	}
	return &Router{
		log:      log,
		store:    store,
		byKey:    make(map[string]*Registration),
		byID:     make(map[string]*Registration),
		fallback: fallback,
	}
}

// Name implements system.Service.
func (r *Router) Name() string { return "webhooks" }

// Start rehydrates persisted registrations.
func (r *Router) Start(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.ListWebhooks(ctx)
	if err != nil {
		r.log.WithError(err).Warn("webhook rehydration failed")
		return nil
	}
	for _, rec := range records {
		if _, err := r.Register(ctx, rec.WorkflowID, rec.Path, rec.Method); err != nil {
			r.log.WithError(err).WithField("workflow_id", rec.WorkflowID).Warn("failed to rehydrate webhook")
		}
	}
	r.log.WithField("count", len(records)).Info("webhooks rehydrated")
	return nil
}

// Stop implements system.Service.
func (r *Router) Stop(_ context.Context) error { return nil }

// Register binds a (method, path) pair to a workflow id. The path gains a
// leading slash and the method is uppercased, so "foo"/"post" matches an
// inbound POST /foo. A workflow's previous binding is released first.
func (r *Router) Register(ctx context.Context, workflowID, path, method string) (Registration, error) {
	if workflowID == "" {
		return Registration{}, fmt.Errorf("workflow id is required")
	}
	path = normalizePath(path)
	method = normalizeMethod(method)
	if path == "/" {
		return Registration{}, fmt.Errorf("webhook path is required")
	}

	r.mu.Lock()
	if prev, ok := r.byID[workflowID]; ok {
		delete(r.byKey, routeKey(prev.Method, prev.Path))
		delete(r.byID, workflowID)
	}
	key := routeKey(method, path)
	if owner, ok := r.byKey[key]; ok && owner.WorkflowID != workflowID {
		r.mu.Unlock()
		return Registration{}, fmt.Errorf("webhook %s %s is already registered to workflow %s", method, path, owner.WorkflowID)
	}
	reg := &Registration{
		WorkflowID: workflowID,
		Path:       path,
		Method:     method,
		CreatedAt:  time.Now().UTC().UnixMilli(),
	}
	r.byKey[key] = reg
	r.byID[workflowID] = reg
	r.mu.Unlock()

	if r.store != nil {
		rec := storage.WebhookRecord{
			WorkflowID: workflowID,
			Path:       path,
			Method:     method,
			CreatedAt:  reg.CreatedAt,
		}
		if err := r.store.SaveWebhook(ctx, rec); err != nil {
			r.log.WithError(err).WithField("workflow_id", workflowID).Warn("failed to persist webhook")
		}
	}

	r.log.WithField("workflow_id", workflowID).
		WithField("method", method).
		WithField("path", path).
		Info("webhook registered")
	return *reg, nil
}

// Unregister releases the workflow's binding if one exists. Unknown ids are
// a no-op.
func (r *Router) Unregister(ctx context.Context, workflowID string) {
	r.mu.Lock()
	reg, ok := r.byID[workflowID]
	if ok {
		delete(r.byKey, routeKey(reg.Method, reg.Path))
		delete(r.byID, workflowID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.store != nil {
		if err := r.store.DeleteWebhook(ctx, workflowID); err != nil {
			r.log.WithError(err).WithField("workflow_id", workflowID).Warn("failed to delete persisted webhook")
		}
	}
	r.log.WithField("workflow_id", workflowID).Info("webhook unregistered")
}

// Registrations returns a snapshot of the live bindings sorted by workflow id.
func (r *Router) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

// Handle resolves an inbound request to its workflow, runs the callback and
// shapes the response. ErrNotRegistered means no binding matched.
func (r *Router) Handle(ctx context.Context, method, path string, headers map[string]string, body any) (Response, error) {
	method = normalizeMethod(method)
	path = normalizePath(path)

	r.mu.RLock()
	reg, ok := r.byKey[routeKey(method, path)]
	r.mu.RUnlock()
	metrics.RecordWebhookRequest(ok)
	if !ok {
		return Response{}, ErrNotRegistered
	}

	result, err := r.fallback(ctx, Request{
		WorkflowID: reg.WorkflowID,
		Path:       path,
		Method:     method,
		Headers:    headers,
		Body:       body,
	})
	if err != nil {
		r.log.WithError(err).WithField("workflow_id", reg.WorkflowID).Warn("webhook run failed")
		return Response{}, fmt.Errorf("webhook run for workflow %s: %w", reg.WorkflowID, err)
	}
	return shapeResponse(reg.WorkflowID, result), nil
}

// shapeResponse honors an explicit statusCode/body pair in the run output;
// anything else is wrapped in the standard envelope.
func shapeResponse(workflowID string, result any) Response {
	if m, ok := result.(map[string]any); ok {
		if code, hasCode := intValue(m["statusCode"]); hasCode {
			body, hasBody := m["body"]
			if !hasBody {
				body = nil
			}
			if code < 100 || code > 599 {
				code = http.StatusOK
			}
			return Response{Status: code, Body: body}
		}
	}
	return Response{
		Status: http.StatusOK,
		Body: map[string]any{
			"success":    true,
			"workflowId": workflowID,
			"result":     result,
		},
	}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodPost
	}
	return method
}
