// Package support handles human escalation: SAV tickets and document report
// generation.
package support

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sapassist/pkg/logx"
)

// Priority grades a ticket and drives the committed response time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// responseTimes maps priority to the committed response window.
//
//nolint:gochecknoglobals // Static SLA table
var responseTimes = map[Priority]time.Duration{
	PriorityLow:      72 * time.Hour,
	PriorityNormal:   24 * time.Hour,
	PriorityHigh:     4 * time.Hour,
	PriorityCritical: 1 * time.Hour,
}

// ResponseTime returns the committed response window for a priority,
// defaulting to the normal window.
func ResponseTime(p Priority) time.Duration {
	if d, ok := responseTimes[p]; ok {
		return d
	}
	return responseTimes[PriorityNormal]
}

// Ticket is one SAV (after-sales) ticket, persisted as a JSON file.
type Ticket struct {
	ID          string    `json:"id"` // SAV-YYYYMMDD-HHMMSS-xxxxxxxx
	Ref         string    `json:"ref"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Requester   string    `json:"requester"`
	Priority    Priority  `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	RespondBy   time.Time `json:"respond_by"`
}

// TicketStore persists tickets under a directory, one JSON file per ticket.
type TicketStore struct {
	dir    string
	now    func() time.Time
	logger *logx.Logger
}

// NewTicketStore creates a store rooted at dir, creating it when missing.
func NewTicketStore(dir string) (*TicketStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ticket directory: %w", err)
	}
	return &TicketStore{
		dir:    dir,
		now:    time.Now,
		logger: logx.NewLogger("support"),
	}, nil
}

// SetClock overrides the clock for tests.
func (s *TicketStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create opens a ticket and persists it.
func (s *TicketStore) Create(subject, description, requester string, priority Priority) (*Ticket, error) {
	if subject == "" {
		return nil, fmt.Errorf("ticket subject must not be empty")
	}
	if _, ok := responseTimes[priority]; !ok {
		priority = PriorityNormal
	}

	// The ID doubles as the filename; the suffix keeps same-second tickets
	// from colliding.
	now := s.now()
	ref := uuid.NewString()
	t := &Ticket{
		ID:          fmt.Sprintf("SAV-%s-%s", now.Format("20060102-150405"), ref[:8]),
		Ref:         ref,
		Subject:     subject,
		Description: description,
		Requester:   requester,
		Priority:    priority,
		Status:      "open",
		CreatedAt:   now,
		RespondBy:   now.Add(ResponseTime(priority)),
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ticket: %w", err)
	}
	path := filepath.Join(s.dir, t.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write ticket: %w", err)
	}

	s.logger.Info("ticket %s opened (%s, respond by %s)", t.ID, t.Priority, t.RespondBy.Format(time.RFC3339))
	return t, nil
}

// Get loads one ticket by ID.
func (s *TicketStore) Get(id string) (*Ticket, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket %s: %w", id, err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode ticket %s: %w", id, err)
	}
	return &t, nil
}

// List returns all tickets, newest first.
func (s *TicketStore) List() ([]Ticket, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticket directory: %w", err)
	}

	var tickets []Ticket
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		t, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable ticket file %s: %v", entry.Name(), err)
			continue
		}
		tickets = append(tickets, *t)
	}

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].CreatedAt.After(tickets[j].CreatedAt) })
	return tickets, nil
}

// Close marks a ticket resolved and persists it.
func (s *TicketStore) Close(id string) error {
	t, err := s.Get(id)
	if err != nil {
		return err
	}
	t.Status = "closed"

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, t.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write ticket: %w", err)
	}
	return nil
}
