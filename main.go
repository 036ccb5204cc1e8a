package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"sapassist/pkg/config"
	"sapassist/pkg/executor"
	"sapassist/pkg/invoice"
	"sapassist/pkg/knowledge"
	"sapassist/pkg/llm"
	"sapassist/pkg/logx"
	"sapassist/pkg/metrics"
	"sapassist/pkg/registry"
	"sapassist/pkg/sapclient"
	"sapassist/pkg/saperr"
	"sapassist/pkg/support"
	"sapassist/pkg/workflow"
)

// Assistant owns the long-lived components of one session.
type Assistant struct {
	cfg      config.Config
	sap      *sapclient.Client
	pipeline *workflow.Pipeline
	reports  *support.ReportGenerator
	tickets  *support.TicketStore
	recorder *metrics.Recorder
	logger   *logx.Logger
}

func main() {
	var projectDir string
	var question string
	var demoMode bool
	var mailboxMode bool
	flag.StringVar(&projectDir, "dir", ".", "Project directory holding config.yaml and data")
	flag.StringVar(&question, "q", "", "Answer one question and exit")
	flag.BoolVar(&demoMode, "demo", false, "Run against the built-in demo dataset")
	flag.BoolVar(&mailboxMode, "mailbox", false, "Start the invoice mailbox agent")
	flag.Parse()

	if err := config.LoadConfig(projectDir); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get config: %v", err)
	}
	if demoMode {
		cfg.SAP.DemoMode = true
		cfg.LLM.Provider = config.ProviderMock
	}

	if err := unlockSecrets(projectDir, cfg.SAP.DemoMode); err != nil {
		log.Fatalf("Failed to unlock secrets: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	assistant, cleanup, err := newAssistant(ctx, projectDir, cfg)
	if err != nil {
		log.Fatalf("Failed to start assistant: %v", err)
	}
	defer cleanup()

	if mailboxMode || cfg.Mailbox.Enabled {
		if err := assistant.startMailboxAgent(ctx); err != nil {
			log.Fatalf("Failed to start mailbox agent: %v", err)
		}
	}

	if question != "" {
		assistant.ask(ctx, question)
		return
	}
	assistant.repl(ctx)
}

// unlockSecrets decrypts the secrets file when present, prompting for its
// password on the terminal. Demo mode runs without secrets.
func unlockSecrets(projectDir string, demo bool) error {
	if !config.SecretsFileExists(projectDir) {
		if demo {
			return nil
		}
		fmt.Println("No secrets file found; relying on environment variables.")
		return nil
	}

	fmt.Print("Secrets password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, string(password))
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

func newAssistant(ctx context.Context, projectDir string, cfg config.Config) (*Assistant, func(), error) {
	logger := logx.NewLogger("main")

	client, err := llm.NewFromConfig(&cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	password := ""
	if !cfg.SAP.DemoMode {
		password, err = config.GetSecret(config.SecretSAPPassword)
		if err != nil {
			return nil, nil, err
		}
	}
	sap := sapclient.New(&cfg.SAP, password)
	if err := sap.Login(ctx); err != nil {
		return nil, nil, err
	}

	sessionID := "session-" + uuid.NewString()[:8]
	dbPath := filepath.Join(projectDir, cfg.Storage.KnowledgeDB)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, err
	}
	if err := knowledge.Initialize(dbPath, sessionID); err != nil {
		return nil, nil, err
	}
	ops := knowledge.Ops()
	if err := executor.SeedCorrectionRules(ops); err != nil {
		return nil, nil, err
	}

	reg := registry.NewRegistry()
	cachePath := filepath.Join(projectDir, cfg.Storage.RegistryCache)
	fresh, err := reg.LoadCache(cachePath)
	if err != nil {
		logger.Warn("registry cache unreadable: %v", err)
	}
	if !fresh {
		if err := reg.Discover(ctx, sap); err != nil {
			logger.Warn("entity discovery failed, using core schemas: %v", err)
		} else if err := reg.SaveCache(cachePath); err != nil {
			logger.Warn("failed to save registry cache: %v", err)
		}
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		go func() {
			if err := metrics.Serve(cfg.Metrics.ListenAddr); err != nil {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
	}

	tickets, err := support.NewTicketStore(filepath.Join(projectDir, cfg.Storage.TicketsDir))
	if err != nil {
		return nil, nil, err
	}
	reports, err := support.NewReportGenerator(filepath.Join(projectDir, cfg.Storage.ReportsDir), sap)
	if err != nil {
		return nil, nil, err
	}

	assistant := &Assistant{
		cfg:      cfg,
		sap:      sap,
		pipeline: workflow.NewPipeline(client, sap, reg, ops, recorder, cfg.Workflow),
		reports:  reports,
		tickets:  tickets,
		recorder: recorder,
		logger:   logger,
	}

	cleanup := func() {
		shutdownCtx := context.Background()
		if err := sap.Logout(shutdownCtx); err != nil {
			logger.Warn("logout failed: %v", err)
		}
		if err := knowledge.Close(); err != nil {
			logger.Warn("knowledge store close failed: %v", err)
		}
	}
	logger.Info("assistant ready (session %s, demo=%v)", sessionID, cfg.SAP.DemoMode)
	return assistant, cleanup, nil
}

func (a *Assistant) startMailboxAgent(ctx context.Context) error {
	mailbox, err := invoice.NewFileMailbox(a.cfg.Mailbox.Maildir)
	if err != nil {
		return err
	}
	client, err := llm.NewFromConfig(&a.cfg.LLM)
	if err != nil {
		return err
	}
	if a.recorder != nil {
		client = llm.NewMeteredClient(client, "invoice", a.recorder)
	}
	agent := invoice.NewAgent(mailbox, client, a.sap, a.tickets, a.cfg.Mailbox)
	go func() {
		if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("mailbox agent stopped: %v", err)
		}
	}()
	return nil
}

func (a *Assistant) ask(ctx context.Context, question string) {
	answer, err := a.pipeline.Process(ctx, question)
	if err != nil {
		fmt.Println(saperr.UserMessage(err))
		return
	}
	fmt.Println(answer.Text)
	if len(answer.Corrections) > 0 {
		fmt.Printf("(query auto-corrected: %s)\n", strings.Join(answer.Corrections, ", "))
	}
}

func (a *Assistant) repl(ctx context.Context) {
	fmt.Println("SAP B1 assistant. Ask about orders, invoices, partners... (:help for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("sap> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		switch {
		case line == "exit" || line == "quit":
			return
		case line == ":help":
			fmt.Println("  <question>                ask about SAP data")
			fmt.Println("  :report <type> <key>      generate a report (invoice, order, customer_statement, business_partner)")
			fmt.Println("  :tickets                  list open support tickets")
			fmt.Println("  :stats                    session metrics from Prometheus")
			fmt.Println("  exit                      leave")
		case strings.HasPrefix(line, ":report "):
			a.report(ctx, strings.Fields(line)[1:])
		case line == ":tickets":
			a.listTickets()
		case line == ":stats":
			a.stats(ctx)
		default:
			a.ask(ctx, line)
		}
	}
}

func (a *Assistant) report(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: :report <type> <key>")
		return
	}
	path, err := a.reports.Generate(ctx, args[0], args[1])
	if err != nil {
		fmt.Printf("report failed: %v\n", err)
		return
	}
	fmt.Printf("report written to %s\n", path)
}

func (a *Assistant) stats(ctx context.Context) {
	svc, err := metrics.NewQueryService(a.cfg.Metrics.PrometheusURL)
	if err != nil {
		fmt.Printf("cannot reach Prometheus: %v\n", err)
		return
	}
	m, err := svc.GetSessionMetrics(ctx)
	if err != nil {
		fmt.Printf("metrics query failed: %v\n", err)
		return
	}
	fmt.Printf("queries: %d (%d failed), corrections: %d, tokens: %d prompt / %d completion\n",
		m.QueriesTotal, m.QueriesFailed, m.CorrectionsTotal, m.PromptTokens, m.CompletionTokens)
}

func (a *Assistant) listTickets() {
	tickets, err := a.tickets.List()
	if err != nil {
		fmt.Printf("cannot list tickets: %v\n", err)
		return
	}
	if len(tickets) == 0 {
		fmt.Println("no tickets")
		return
	}
	for _, t := range tickets {
		fmt.Printf("%s  [%s/%s]  %s\n", t.ID, t.Priority, t.Status, t.Subject)
	}
}
