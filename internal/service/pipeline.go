package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/pipeline"
)

// PipelineService manages pipeline templates (built-in + custom).
type PipelineService struct {
	mu        sync.RWMutex
	templates map[string]pipeline.Template
}

// NewPipelineService creates a PipelineService pre-loaded with built-in templates.
func NewPipelineService() *PipelineService {
	s := &PipelineService{
		templates: make(map[string]pipeline.Template),
	}
	for _, t := range pipeline.BuiltinTemplates() {
		s.templates[t.ID] = t
	}
	return s
}

// LoadDirectory registers every YAML template found in dir and returns how
// many were loaded. A missing directory loads nothing.
func (s *PipelineService) LoadDirectory(dir string) (int, error) {
	templates, err := pipeline.LoadFromDirectory(dir)
	if err != nil {
		return 0, err
	}
	for i := range templates {
		if err := s.Register(&templates[i]); err != nil {
			return i, err
		}
		slog.Info("pipeline template loaded", "id", templates[i].ID, "phases", len(templates[i].Phases))
	}
	return len(templates), nil
}

// List returns all registered pipeline templates ordered by id.
func (s *PipelineService) List() []pipeline.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]pipeline.Template, 0, len(s.templates))
	for _, t := range s.templates {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a template by ID.
func (s *PipelineService) Get(id string) (*pipeline.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("pipeline template %q: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

// Register adds a custom template. Built-in templates cannot be overwritten.
func (s *PipelineService) Register(t *pipeline.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validate template: %w: %w", domain.ErrValidation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.templates[t.ID]; ok && existing.Builtin {
		return fmt.Errorf("cannot overwrite built-in template %q: %w", t.ID, domain.ErrConflict)
	}
	c := *t
	c.Builtin = false
	s.templates[t.ID] = c
	return nil
}
