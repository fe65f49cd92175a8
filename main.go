package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	agentsx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/agents"
	controllerx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/controller"
	documentx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/document"
	llmx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/llm"
	promptx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/prompt"
	storex "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pipeline/store"
	completionx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/completion"
	configx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/config"
	_ "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/Docuflow-Versioned-Document-Pipeline/pkg/metrics"
)

type AppConfig struct {
	StoreDSN string `envconfig:"STORE_DSN"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")

	m := metricsx.New(nil)

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	clients, err := agentsx.BuildClients(*llmCfg)
	if err != nil {
		panic(fmt.Sprintf("failed to build completion clients: %v", err))
	}
	clients.Summarizer = completionx.Instrument(clients.Summarizer, m.CompletionCallsTotal)
	clients.Entity = completionx.Instrument(clients.Entity, m.CompletionCallsTotal)
	clients.QA = completionx.Instrument(clients.QA, m.CompletionCallsTotal)
	clients.Critic = completionx.Instrument(clients.Critic, m.CompletionCallsTotal)

	summarizerCfg := configx.MustNew[agentsx.SummarizerConfig]("SUMMARIZER")
	validationCfg := configx.MustNew[agentsx.ValidationConfig]("VALIDATION")
	registry, err := agentsx.NewRegistry(clients, promptx.LoadPromptSet(), *summarizerCfg, *validationCfg)
	if err != nil {
		panic(fmt.Sprintf("failed to build agent registry: %v", err))
	}

	ctx := context.Background()
	store := buildStore(ctx, appCfg.StoreDSN)

	controllerCfg := configx.MustNew[controllerx.Config]("CONTROLLER")
	ctrl := controllerx.New(*controllerCfg, store, registry, m)

	if len(os.Args) < 2 {
		fmt.Println("usage: docuflow <document.md>")
		return
	}
	path := os.Args[1]
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("failed to read document: %v", err))
	}

	docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := ctrl.Ingest(ctx, docID, string(raw)); err != nil {
		panic(fmt.Sprintf("failed to ingest document: %v", err))
	}

	final, err := ctrl.Run(ctx, docID)
	if err != nil {
		panic(fmt.Sprintf("pipeline run failed: %v", err))
	}

	status, err := ctrl.Status(ctx, docID)
	if err != nil {
		panic(fmt.Sprintf("failed to read status: %v", err))
	}
	log.Info().
		Str("doc_id", status.DocID).
		Str("state", string(status.State)).
		Int64("version_no", status.VersionNo).
		Int("sections", status.SectionCount).
		Int("entities", status.EntityCount).
		Msg("pipeline run finished")

	if final.State == documentx.StateFailed {
		fmt.Printf("document %s failed at stage %s: %s\n", docID, final.FailedStage, final.FailureReason)
		return
	}
	fmt.Printf("document %s is %s at version %d\n", docID, final.State, final.VersionNo)
}

func buildStore(ctx context.Context, dsn string) storex.Store {
	if strings.TrimSpace(dsn) == "" {
		return storex.NewMemoryStore()
	}
	pg, err := storex.NewPostgresStore(storex.PostgresConfig{DSN: dsn})
	if err != nil {
		panic(fmt.Sprintf("failed to open postgres store: %v", err))
	}
	if err := pg.Init(ctx); err != nil {
		panic(fmt.Sprintf("failed to init postgres store: %v", err))
	}
	return pg
}
