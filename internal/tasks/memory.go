package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/taskhub/pkg/models"
)

// Memory is an in-memory Store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	now   func() time.Time
}

// NewMemory creates an empty in-memory task store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*models.Task), now: time.Now}
}

func (s *Memory) Create(ctx context.Context, userID string, params CreateParams) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		CategoryID:  params.CategoryID,
		Title:       params.Title,
		Description: params.Description,
		Position:    s.nextPositionLocked(userID),
		ReminderAt:  params.ReminderAt,
		Tags:        params.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[task.ID] = task
	return cloneTask(task), nil
}

func (s *Memory) Get(ctx context.Context, userID, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *Memory) Update(ctx context.Context, userID, taskID string, params UpdateParams) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrNotFound
	}
	applyPatch(task, params)
	task.UpdatedAt = s.now().UTC()
	return cloneTask(task), nil
}

func (s *Memory) Delete(ctx context.Context, userID, taskID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrNotFound
	}
	delete(s.tasks, taskID)
	return cloneTask(task), nil
}

func (s *Memory) Reorder(ctx context.Context, userID, taskID string, position int) (*models.Task, error) {
	if position < 0 {
		position = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, ErrNotFound
	}

	peers := make([]*models.Task, 0)
	for _, t := range s.tasks {
		if t.UserID == userID && t.ID != taskID {
			peers = append(peers, t)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Position < peers[j].Position })
	if position > len(peers) {
		position = len(peers)
	}

	next := 0
	for i, t := range peers {
		if i == position {
			next++
		}
		t.Position = next
		next++
	}
	task.Position = position
	task.UpdatedAt = s.now().UTC()
	return cloneTask(task), nil
}

func (s *Memory) FindDueReminders(ctx context.Context, from, until time.Time) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0)
	for _, task := range s.tasks {
		if task.Completed || task.ReminderAt == nil {
			continue
		}
		at := *task.ReminderAt
		if at.Before(from) || at.After(until) {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReminderAt.Before(*out[j].ReminderAt) })
	return out, nil
}

func (s *Memory) nextPositionLocked(userID string) int {
	max := -1
	for _, task := range s.tasks {
		if task.UserID == userID && task.Position > max {
			max = task.Position
		}
	}
	return max + 1
}

func cloneTask(task *models.Task) *models.Task {
	out := *task
	if task.ReminderAt != nil {
		at := *task.ReminderAt
		out.ReminderAt = &at
	}
	out.Tags = append([]string(nil), task.Tags...)
	return &out
}
