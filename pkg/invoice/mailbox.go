// Package invoice implements the mailbox agent: incoming messages are
// classified, matched to business partners and open orders, and turned into
// draft invoices or support tickets.
package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Message is one incoming mail.
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Mailbox abstracts the mail source.
type Mailbox interface {
	// Fetch returns unprocessed messages, oldest first.
	Fetch(ctx context.Context) ([]Message, error)
	// MarkProcessed removes a message from the unprocessed set.
	MarkProcessed(ctx context.Context, id string) error
}

// FileMailbox reads messages from a directory: one JSON file per message in
// inbox/, moved to processed/ once handled.
type FileMailbox struct {
	inbox     string
	processed string
}

// NewFileMailbox creates a file-backed mailbox rooted at dir.
func NewFileMailbox(dir string) (*FileMailbox, error) {
	inbox := filepath.Join(dir, "inbox")
	processed := filepath.Join(dir, "processed")
	for _, d := range []string{inbox, processed} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mailbox directory: %w", err)
		}
	}
	return &FileMailbox{inbox: inbox, processed: processed}, nil
}

// Fetch reads every JSON message in the inbox.
func (m *FileMailbox) Fetch(_ context.Context) ([]Message, error) {
	entries, err := os.ReadDir(m.inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var messages []Message
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.inbox, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read message %s: %w", entry.Name(), err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", entry.Name(), err)
		}
		if msg.ID == "" {
			msg.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ReceivedAt.Before(messages[j].ReceivedAt) })
	return messages, nil
}

// MarkProcessed moves the message file into processed/.
func (m *FileMailbox) MarkProcessed(_ context.Context, id string) error {
	name := id + ".json"
	if err := os.Rename(filepath.Join(m.inbox, name), filepath.Join(m.processed, name)); err != nil {
		return fmt.Errorf("failed to move message %s: %w", id, err)
	}
	return nil
}

// Deposit writes a message into the inbox. Used by demos and tests.
func (m *FileMailbox) Deposit(msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message ID must not be empty")
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.inbox, msg.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
