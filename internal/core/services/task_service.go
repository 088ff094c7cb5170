package services

import (
	"sync"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/google/uuid"
)

// TaskService is the in-memory task registry. It is the only writer of task
// records; callers always receive copies. Terminal records are swept after
// the retention window since clients observe the terminal event through the
// task's stream before the record disappears.
type TaskService struct {
	tasks     map[string]*domain.Task
	mu        sync.RWMutex
	logger    *logger.Logger
	retention time.Duration
}

const defaultRetention = 30 * time.Minute

func NewTaskService(log *logger.Logger, retention time.Duration) *TaskService {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &TaskService{
		tasks:     make(map[string]*domain.Task),
		logger:    log,
		retention: retention,
	}
}

func (s *TaskService) CreateTask(kind domain.TaskKind) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	task := &domain.Task{
		ID:        id,
		Kind:      kind,
		Status:    domain.TaskStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	s.tasks[id] = task
	s.logger.Infow("task_created", "id", id, "kind", kind)

	taskCopy := *task
	return &taskCopy
}

func (s *TaskService) GetTask(id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, ErrTaskNotFound
	}

	// Return a copy to avoid race conditions
	taskCopy := *task
	return &taskCopy, nil
}

// Transition advances the task state machine. Any move other than
// pending -> running -> completed|failed fails and is logged as a bug.
func (s *TaskService) Transition(id string, next domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return ErrTaskNotFound
	}

	if !task.CanTransition(next) {
		err := &domain.InvalidTransitionError{TaskID: id, From: task.Status, To: next}
		s.logger.Errorw("task_transition_invalid", "id", id, "from", task.Status, "to", next)
		return err
	}

	task.Status = next
	task.UpdatedAt = time.Now()

	if next == domain.TaskStatusCompleted {
		task.Progress.Percentage = 100
	}
	return nil
}

// SetProgress updates the task counters. Progress never regresses and
// current never exceeds total.
func (s *TaskService) SetProgress(id string, current, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return ErrTaskNotFound
	}

	if current < 0 {
		current = 0
	}
	if total > 0 && current > total {
		current = total
	}
	if current < task.Progress.Current {
		current = task.Progress.Current
	}

	task.Progress = domain.Progress{
		Current:    current,
		Total:      total,
		Percentage: domain.Percentage(current, total),
	}
	task.UpdatedAt = time.Now()
	return nil
}

func (s *TaskService) SetError(id string, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, exists := s.tasks[id]; exists {
		task.Error = msg
		task.UpdatedAt = time.Now()
	}
}

// Sweep removes terminal tasks older than the retention window and returns
// how many were removed.
func (s *TaskService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	removed := 0
	for id, task := range s.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Infow("task_sweep", "removed", removed)
	}
	return removed
}

// StartSweeper runs Sweep periodically until stop is closed.
func (s *TaskService) StartSweeper(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
