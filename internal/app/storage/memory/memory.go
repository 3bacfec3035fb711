package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/app/domain/workflow"
	"github.com/flowmesh/flowmesh/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	workflows  map[string]workflow.Definition
	executions map[string]workflow.ExecutionResult
	byWorkflow map[string][]string
	schedules  map[string]storage.ScheduleRecord
	webhooks   map[string]storage.WebhookRecord
}

var _ storage.WorkflowStore = (*Store)(nil)
var _ storage.ExecutionStore = (*Store)(nil)
var _ storage.RegistrationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		workflows:  make(map[string]workflow.Definition),
		executions: make(map[string]workflow.ExecutionResult),
		byWorkflow: make(map[string][]string),
		schedules:  make(map[string]storage.ScheduleRecord),
		webhooks:   make(map[string]storage.WebhookRecord),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// WorkflowStore implementation ------------------------------------------------

func (s *Store) CreateWorkflow(_ context.Context, def workflow.Definition) (workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == "" {
		def.ID = s.nextIDLocked()
	} else if _, exists := s.workflows[def.ID]; exists {
		return workflow.Definition{}, fmt.Errorf("workflow %s already exists", def.ID)
	}

	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	s.workflows[def.ID] = cloneDefinition(def)
	return cloneDefinition(def), nil
}

func (s *Store) UpdateWorkflow(_ context.Context, def workflow.Definition) (workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.workflows[def.ID]
	if !ok {
		return workflow.Definition{}, fmt.Errorf("workflow %s not found", def.ID)
	}

	def.CreatedAt = original.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	s.workflows[def.ID] = cloneDefinition(def)
	return cloneDefinition(def), nil
}

func (s *Store) GetWorkflow(_ context.Context, id string) (workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[id]
	if !ok {
		return workflow.Definition{}, fmt.Errorf("workflow %s not found", id)
	}
	return cloneDefinition(def), nil
}

func (s *Store) ListWorkflows(_ context.Context) ([]workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]workflow.Definition, 0, len(s.workflows))
	for _, def := range s.workflows {
		result = append(result, cloneDefinition(def))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return fmt.Errorf("workflow %s not found", id)
	}
	delete(s.workflows, id)
	return nil
}

// ExecutionStore implementation -----------------------------------------------

func (s *Store) CreateExecution(_ context.Context, res workflow.ExecutionResult) (workflow.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == "" {
		res.ID = s.nextIDLocked()
	} else if _, exists := s.executions[res.ID]; exists {
		return workflow.ExecutionResult{}, fmt.Errorf("execution %s already exists", res.ID)
	}

	s.executions[res.ID] = cloneExecution(res)
	s.byWorkflow[res.WorkflowID] = append(s.byWorkflow[res.WorkflowID], res.ID)
	return cloneExecution(res), nil
}

func (s *Store) GetExecution(_ context.Context, id string) (workflow.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.executions[id]
	if !ok {
		return workflow.ExecutionResult{}, fmt.Errorf("execution %s not found", id)
	}
	return cloneExecution(res), nil
}

func (s *Store) ListExecutions(_ context.Context, workflowID string) ([]workflow.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWorkflow[workflowID]
	result := make([]workflow.ExecutionResult, 0, len(ids))
	for _, id := range ids {
		if res, ok := s.executions[id]; ok {
			result = append(result, cloneExecution(res))
		}
	}
	return result, nil
}

// RegistrationStore implementation --------------------------------------------

func (s *Store) SaveSchedule(_ context.Context, rec storage.ScheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[rec.WorkflowID] = rec
	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, workflowID)
	return nil
}

func (s *Store) ListSchedules(_ context.Context) ([]storage.ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.ScheduleRecord, 0, len(s.schedules))
	for _, rec := range s.schedules {
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) SaveWebhook(_ context.Context, rec storage.WebhookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[rec.WorkflowID] = rec
	return nil
}

func (s *Store) DeleteWebhook(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, workflowID)
	return nil
}

func (s *Store) ListWebhooks(_ context.Context) ([]storage.WebhookRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.WebhookRecord, 0, len(s.webhooks))
	for _, rec := range s.webhooks {
		result = append(result, rec)
	}
	return result, nil
}

// Clone helpers ---------------------------------------------------------------

// Definitions and executions hold nested maps and arbitrary output values, so
// a JSON round trip is the simplest faithful deep copy.
func cloneDefinition(def workflow.Definition) workflow.Definition {
	data, err := json.Marshal(def)
	if err != nil {
		return def
	}
	var out workflow.Definition
	if err := json.Unmarshal(data, &out); err != nil {
		return def
	}
	out.CreatedAt = def.CreatedAt
	out.UpdatedAt = def.UpdatedAt
	return out
}

func cloneExecution(res workflow.ExecutionResult) workflow.ExecutionResult {
	data, err := json.Marshal(res)
	if err != nil {
		return res
	}
	var out workflow.ExecutionResult
	if err := json.Unmarshal(data, &out); err != nil {
		return res
	}
	return out
}
