package webhook

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxUsagePerProject bounds the in-memory usage history; older events
// are dropped first.
const maxUsagePerProject = 100

// Project is a registration created through POST /register.
type Project struct {
	ID        string    `json:"project_id"`
	Name      string    `json:"project_name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageEvent is one tracked command invocation for a project.
type UsageEvent struct {
	ProjectID string         `json:"project_id"`
	Command   string         `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// State holds everything the listener accumulates over its lifetime.
// It is scoped to the server instance, guarded by a mutex, and lost on
// restart, which is all the local workflow needs.
type State struct {
	mu        sync.Mutex
	startedAt time.Time
	projects  map[string]Project
	order     []string
	usage     map[string][]UsageEvent
	rebuilds  int
}

// NewState returns an empty listener state.
func NewState() *State {
	return &State{
		startedAt: time.Now(),
		projects:  make(map[string]Project),
		usage:     make(map[string][]UsageEvent),
	}
}

// RegisterProject stores a new project and returns it with a fresh id.
func (s *State) RegisterProject(name, email string) Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Project{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	s.projects[p.ID] = p
	s.order = append(s.order, p.ID)
	return p
}

// Projects lists registrations in creation order.
func (s *State) Projects() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.projects[id])
	}
	return out
}

// TrackUsage appends an event. It reports false when the project is
// unknown.
func (s *State) TrackUsage(ev UsageEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[ev.ProjectID]; !ok {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	events := append(s.usage[ev.ProjectID], ev)
	if len(events) > maxUsagePerProject {
		events = events[len(events)-maxUsagePerProject:]
	}
	s.usage[ev.ProjectID] = events
	return true
}

// Usage returns the tracked events for a project.
func (s *State) Usage(projectID string) ([]UsageEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, false
	}
	return append([]UsageEvent(nil), s.usage[projectID]...), true
}

// RecordRebuild counts a triggered rebuild.
func (s *State) RecordRebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
}

// Info summarizes the listener for the index endpoint.
func (s *State) Info() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"service":        "sbdk-webhooks",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"projects":       len(s.projects),
		"rebuilds":       s.rebuilds,
	}
}
