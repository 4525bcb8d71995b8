package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/broadcast"
	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/kv"
)

const instrumentationName = "github.com/crewline/crewd/internal/board"

// Task status lifecycle. Ordered in intended use but not enforced.
const (
	StatusBacklog    = "backlog"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
)

// updatableFields is the allow-list for Update. Unknown fields are
// silently dropped so forward-compatible callers do not break.
var updatableFields = map[string]bool{
	"status":        true,
	"assigned_to":   true,
	"artifact_path": true,
	"title":         true,
	"description":   true,
}

func taskKey(projectID string, phase engagement.Phase, taskID string) string {
	return fmt.Sprintf("%s.TASK.%s.%s", projectID, phase, taskID)
}

// Comment is one append-only task comment.
type Comment struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is one human-visible work item.
type Task struct {
	ID           string           `json:"id"`
	ProjectID    string           `json:"project_id"`
	Phase        engagement.Phase `json:"phase"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Status       string           `json:"status"`
	AssignedTo   string           `json:"assigned_to"`
	ArtifactPath string           `json:"artifact_path"`
	Comments     []Comment        `json:"comments"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Service provides board task operations.
type Service interface {
	// Create adds a task in the backlog column and broadcasts it.
	Create(ctx context.Context, projectID string, phase engagement.Phase, title, description, assignee string) (*Task, error)

	// Update applies the allow-listed subset of fieldUpdates, stamps
	// updated_at, and broadcasts only the caller-supplied fields.
	Update(ctx context.Context, projectID string, phase engagement.Phase, taskID string, fieldUpdates map[string]string) (*Task, error)

	// AddComment appends a comment and broadcasts a comment_added update.
	AddComment(ctx context.Context, projectID string, phase engagement.Phase, taskID, author, content string) (*Task, error)

	// List returns tasks ordered by created_at ascending. An empty phase
	// lists tasks across all phases.
	List(ctx context.Context, projectID string, phase engagement.Phase) ([]*Task, error)

	// Get returns one task, or nil if it does not exist.
	Get(ctx context.Context, projectID string, phase engagement.Phase, taskID string) (*Task, error)

	// Close closes the service.
	Close() error
}

// service implements the Service interface.
type service struct {
	store       kv.Store
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	updateCounter  metric.Int64Counter
	commentCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new board task service.
func NewService(store kv.Store, b broadcast.Broadcaster, logger *zap.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if b == nil {
		b = broadcast.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		store:       store,
		broadcaster: b,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.updateCounter, err = s.meter.Int64Counter(
		"crewd.board.updates_total",
		metric.WithDescription("Total number of board task updates"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		s.logger.Warn("failed to create update counter", zap.Error(err))
	}

	s.commentCounter, err = s.meter.Int64Counter(
		"crewd.board.comments_total",
		metric.WithDescription("Total number of board task comments"),
		metric.WithUnit("{comment}"),
	)
	if err != nil {
		s.logger.Warn("failed to create comment counter", zap.Error(err))
	}
}

func (s *service) Create(ctx context.Context, projectID string, phase engagement.Phase, title, description, assignee string) (*Task, error) {
	ctx, span := s.tracer.Start(ctx, "board.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("phase", phase.String()),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if title == "" {
		return nil, errors.New("title is required")
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Phase:       phase,
		Title:       title,
		Description: description,
		Status:      StatusBacklog,
		AssignedTo:  assignee,
		Comments:    []Comment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.write(ctx, task); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.publish(ctx, task, map[string]string{
		"title":       title,
		"status":      StatusBacklog,
		"assigned_to": assignee,
	})

	return task, nil
}

func (s *service) Update(ctx context.Context, projectID string, phase engagement.Phase, taskID string, fieldUpdates map[string]string) (*Task, error) {
	ctx, span := s.tracer.Start(ctx, "board.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("task_id", taskID),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	task, err := s.Get(ctx, projectID, phase, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	applied := make(map[string]string)
	for field, value := range fieldUpdates {
		if !updatableFields[field] {
			continue
		}
		switch field {
		case "status":
			if !validStatus(value) {
				return nil, fmt.Errorf("invalid task status: %q", value)
			}
			task.Status = value
		case "assigned_to":
			task.AssignedTo = value
		case "artifact_path":
			task.ArtifactPath = value
		case "title":
			task.Title = value
		case "description":
			task.Description = value
		}
		applied[field] = value
	}

	task.UpdatedAt = time.Now().UTC()
	if err := s.write(ctx, task); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.updateCounter != nil {
		s.updateCounter.Add(ctx, 1)
	}

	// Broadcast carries only the fields the caller supplied, never the
	// internal timestamp.
	if len(applied) > 0 {
		s.publish(ctx, task, applied)
	}

	return task, nil
}

func (s *service) AddComment(ctx context.Context, projectID string, phase engagement.Phase, taskID, author, content string) (*Task, error) {
	ctx, span := s.tracer.Start(ctx, "board.add_comment")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.String("task_id", taskID),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if content == "" {
		return nil, errors.New("comment content is required")
	}

	task, err := s.Get(ctx, projectID, phase, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	now := time.Now().UTC()
	task.Comments = append(task.Comments, Comment{
		Author:    author,
		Content:   content,
		Timestamp: now,
	})
	task.UpdatedAt = now

	if err := s.write(ctx, task); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if s.commentCounter != nil {
		s.commentCounter.Add(ctx, 1)
	}

	s.publish(ctx, task, map[string]string{"comment_added": content, "author": author})

	return task, nil
}

func (s *service) List(ctx context.Context, projectID string, phase engagement.Phase) ([]*Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	prefix := projectID + ".TASK."
	if phase != "" {
		prefix = fmt.Sprintf("%s.TASK.%s.", projectID, phase)
	}

	keys, err := s.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get task %s: %w", key, err)
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", key, err)
		}
		tasks = append(tasks, &task)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *service) Get(ctx context.Context, projectID string, phase engagement.Phase, taskID string) (*Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, taskKey(projectID, phase, taskID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}

func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *service) write(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := s.store.Put(ctx, taskKey(task.ProjectID, task.Phase, task.ID), data); err != nil {
		return fmt.Errorf("failed to write task: %w", err)
	}
	return nil
}

// publish emits a best-effort task update event. Failures never propagate.
func (s *service) publish(ctx context.Context, task *Task, fields map[string]string) {
	fields["task_id"] = task.ID
	err := s.broadcaster.Publish(ctx, broadcast.Event{
		Type:      broadcast.EventTaskUpdated,
		ProjectID: task.ProjectID,
		Phase:     task.Phase.String(),
		Fields:    fields,
	})
	if err != nil {
		s.logger.Warn("failed to broadcast task event",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("service is closed")
	}
	return nil
}

func validStatus(s string) bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}
