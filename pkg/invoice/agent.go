package invoice

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sapassist/pkg/config"
	"sapassist/pkg/llm"
	"sapassist/pkg/logx"
	"sapassist/pkg/support"
)

// Classification labels.
const (
	ClassInvoiceRequest = "INVOICE_REQUEST"
	ClassComplaint      = "COMPLAINT"
	ClassOther          = "OTHER"
)

// Classification is the parsed model verdict on a message.
type Classification struct {
	Label      string
	Confidence float64
	Reasoning  string
}

// Outcome describes what the agent did with one message.
type Outcome struct {
	MessageID      string
	Classification Classification
	DraftEntry     any    // DocEntry of the created draft, when any
	TicketID       string // Escalation ticket, when any
	Note           string
}

// Agent watches a mailbox and acts on invoice requests.
type Agent struct {
	mailbox   Mailbox
	client    llm.Client
	sap       SAPClient
	tickets   *support.TicketStore
	threshold float64
	interval  time.Duration
	logger    *logx.Logger
}

// NewAgent wires the mailbox agent.
func NewAgent(mailbox Mailbox, client llm.Client, sap SAPClient, tickets *support.TicketStore, cfg config.MailboxConfig) *Agent {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Agent{
		mailbox:   mailbox,
		client:    client,
		sap:       sap,
		tickets:   tickets,
		threshold: threshold,
		interval:  interval,
		logger:    logx.NewLogger("invoice-agent"),
	}
}

const classifyPrompt = `You triage emails for an SAP Business One back office.
Classify the email into exactly one of: INVOICE_REQUEST, COMPLAINT, OTHER.
INVOICE_REQUEST means the sender asks for an invoice for a delivered order.
Answer in exactly this format, nothing else:
CLASSIFICATION: <label>
CONFIDENCE: <0.0-1.0>
REASONING: <one sentence>`

//nolint:gochecknoglobals // Static patterns compiled once
var (
	reClassLine  = regexp.MustCompile(`(?m)^CLASSIFICATION:\s*(\w+)`)
	reConfLine   = regexp.MustCompile(`(?m)^CONFIDENCE:\s*([\d.]+)`)
	reReasonLine = regexp.MustCompile(`(?m)^REASONING:\s*(.+)`)
)

// Classify asks the model what the message is.
func (a *Agent) Classify(ctx context.Context, msg Message) (Classification, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(classifyPrompt),
		llm.NewUserMessage(fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.From, msg.Subject, msg.Body)),
	})

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return Classification{}, fmt.Errorf("classification failed: %w", err)
	}

	c := Classification{Label: ClassOther, Confidence: 0}
	if m := reClassLine.FindStringSubmatch(resp.Content); m != nil {
		switch strings.ToUpper(m[1]) {
		case ClassInvoiceRequest, ClassComplaint, ClassOther:
			c.Label = strings.ToUpper(m[1])
		}
	}
	if m := reConfLine.FindStringSubmatch(resp.Content); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 && v <= 1 {
			c.Confidence = v
		}
	}
	if m := reReasonLine.FindStringSubmatch(resp.Content); m != nil {
		c.Reasoning = strings.TrimSpace(m[1])
	}
	return c, nil
}

// ProcessMessage classifies one message and acts on it: confident invoice
// requests become draft invoices, everything unclear goes to support.
func (a *Agent) ProcessMessage(ctx context.Context, msg Message) (*Outcome, error) {
	c, err := a.Classify(ctx, msg)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{MessageID: msg.ID, Classification: c}
	logx.Debug(ctx, "invoice", "message %s classified %s (%.2f): %s", msg.ID, c.Label, c.Confidence, c.Reasoning)

	switch {
	case c.Label == ClassInvoiceRequest && c.Confidence >= a.threshold:
		if err := a.handleInvoiceRequest(ctx, msg, outcome); err != nil {
			a.escalate(msg, outcome, fmt.Sprintf("invoice request could not be automated: %v", err), support.PriorityHigh)
		}
	case c.Label == ClassComplaint:
		a.escalate(msg, outcome, "customer complaint", support.PriorityHigh)
	case c.Label == ClassInvoiceRequest:
		// Below threshold, a human decides.
		a.escalate(msg, outcome, fmt.Sprintf("possible invoice request (confidence %.2f)", c.Confidence), support.PriorityNormal)
	default:
		outcome.Note = "no action"
	}

	if err := a.mailbox.MarkProcessed(ctx, msg.ID); err != nil {
		a.logger.Error("failed to mark message %s processed: %v", msg.ID, err)
	}
	return outcome, nil
}

func (a *Agent) handleInvoiceRequest(ctx context.Context, msg Message, outcome *Outcome) error {
	partner, err := FindPartner(ctx, a.sap, msg.From)
	if err != nil {
		return err
	}

	numbers := ExtractOrderNumbers(msg.Subject + "\n" + msg.Body)
	if len(numbers) == 0 {
		return fmt.Errorf("no order number in message")
	}

	cardCode, _ := partner["CardCode"].(string)
	var lastErr error
	for _, num := range numbers {
		order, err := FindOpenOrder(ctx, a.sap, num, cardCode)
		if err != nil {
			lastErr = err
			continue
		}
		draft, err := CreateDraftInvoice(ctx, a.sap, order)
		if err != nil {
			return err
		}
		outcome.DraftEntry = draft["DocEntry"]
		outcome.Note = fmt.Sprintf("draft invoice created for order %s (%s)", num, cardCode)
		a.logger.Info("draft invoice %v created for order %s", draft["DocEntry"], num)
		return nil
	}
	return fmt.Errorf("no referenced order is open: %w", lastErr)
}

func (a *Agent) escalate(msg Message, outcome *Outcome, reason string, priority support.Priority) {
	if a.tickets == nil {
		outcome.Note = "escalation skipped, no ticket store: " + reason
		return
	}
	ticket, err := a.tickets.Create(
		fmt.Sprintf("Mailbox: %s", msg.Subject),
		fmt.Sprintf("From: %s\nReason: %s\n\n%s", msg.From, reason, msg.Body),
		msg.From,
		priority,
	)
	if err != nil {
		a.logger.Error("failed to open ticket for message %s: %v", msg.ID, err)
		outcome.Note = "escalation failed: " + err.Error()
		return
	}
	outcome.TicketID = ticket.ID
	outcome.Note = reason
}

// Run polls the mailbox until the context ends.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("mailbox agent started (poll every %s)", a.interval)
	for {
		if err := a.Poll(ctx); err != nil {
			a.logger.Error("mailbox poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll processes every pending message once.
func (a *Agent) Poll(ctx context.Context) error {
	messages, err := a.mailbox.Fetch(ctx)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if _, err := a.ProcessMessage(ctx, msg); err != nil {
			a.logger.Error("failed to process message %s: %v", msg.ID, err)
		}
	}
	return nil
}
