// Command artemis runs a single card through the full pipeline and exits
// with a status code derived from the resulting Report. It is kept thin
// by design - flag parsing, wiring the collaborators, and mapping
// Report.Status to an exit code - with no orchestration logic of its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/artemis-pipeline/artemis/ai/providers/anthropic"
	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/orchestration"
	"github.com/artemis-pipeline/artemis/pkg/budget"
	"github.com/artemis-pipeline/artemis/pkg/card"
	"github.com/artemis-pipeline/artemis/pkg/communication"
	"github.com/artemis-pipeline/artemis/pkg/learning"
	"github.com/artemis-pipeline/artemis/pkg/orchestrator"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
	"github.com/artemis-pipeline/artemis/pkg/rag"
	"github.com/artemis-pipeline/artemis/pkg/stages"
	"github.com/artemis-pipeline/artemis/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cardID := flag.String("card-id", "", "id of the card to run through the pipeline (required)")
	maxRetries := flag.Int("max-retries", 2, "bound on the development<->code_review retry loop")
	boardPath := flag.String("board-file", envOr("ARTEMIS_KANBAN_PATH", "./data/board.json"), "path to the Kanban board JSON file")
	stateDir := flag.String("state-dir", envOr("ARTEMIS_STATE_DIR", "./data/snapshots"), "directory for pipeline state snapshots")
	reportDir := flag.String("report-dir", envOr("ARTEMIS_REPORT_DIR", "./data/reports"), "directory to write the run's report JSON to")
	devBaseDir := flag.String("artifact-dir", envOr("ARTEMIS_ARTIFACT_DIR", "./data/artifacts"), "directory development attempts write their artifacts under")
	otelEndpoint := flag.String("otel-endpoint", envOr("ARTEMIS_OTEL_ENDPOINT", ""), "OTLP/gRPC collector address; empty prints spans to stdout")
	anthropicKey := flag.String("anthropic-api-key", envOr("ANTHROPIC_API_KEY", ""), "enables the learning proposer as a last-resort recovery step when set")
	flag.Parse()

	logger := core.NewProductionLogger(core.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, core.DevelopmentConfig{}, "artemis")

	if *cardID == "" {
		logger.Error("startup validation failed", map[string]interface{}{"error": "card-id is required"})
		return 4
	}

	cfg := core.DefaultConfig()

	board, err := card.NewFileKanbanBoard(*boardPath)
	if err != nil {
		logger.Error("startup validation failed", map[string]interface{}{"error": err.Error()})
		return 4
	}

	snapshots, err := orchestration.NewFileSnapshotStore(*stateDir, logger)
	if err != nil {
		logger.Error("startup validation failed", map[string]interface{}{"error": err.Error()})
		return 4
	}

	store := rag.NewInMemoryRAG()
	messenger := communication.NewMailboxMessenger(logger)
	tracker := budget.NewTracker(cfg.Budget)

	registry := pipeline.NewStageRegistry()
	stageList := []pipeline.Stage{
		stages.NewProjectAnalysisStage(),
		stages.NewArchitectureStage(),
		stages.NewDependencyValidationStage(),
		stages.NewDevelopmentStage(cfg.Arbitration, *devBaseDir, logger, tracker),
		stages.NewCodeReviewStage(),
		stages.NewValidationStage(cfg.Sandbox, logger),
		stages.NewIntegrationStage(),
		stages.NewTestingStage(),
	}
	for _, s := range stageList {
		if err := registry.Register(s); err != nil {
			logger.Error("startup validation failed", map[string]interface{}{"error": err.Error()})
			return 4
		}
	}

	orch := orchestrator.New(board, store, messenger, registry, snapshots, logger)

	ctx := context.Background()

	if provider, provErr := telemetry.NewProvider(ctx, "artemis", *otelEndpoint); provErr != nil {
		logger.Warn("telemetry unavailable, continuing without spans/metrics", map[string]interface{}{"error": provErr.Error()})
	} else {
		orch.WithTelemetry(provider)
		defer func() { _ = provider.Shutdown(ctx) }()
	}

	if *anthropicKey != "" {
		client := anthropic.NewClient(*anthropicKey, "", logger)
		orch.WithProposer(learning.NewAnthropicProposer(client, store, logger))
	}

	report, err := orch.RunFullPipeline(ctx, *cardID, *maxRetries)
	if err != nil {
		if core.IsNotFound(err) {
			logger.Error("card not found", map[string]interface{}{"card_id": *cardID, "error": err.Error()})
			return 5
		}
		if core.IsConfigurationError(err) {
			logger.Error("invalid configuration", map[string]interface{}{"error": err.Error()})
			return 4
		}
		logger.Error("pipeline run failed", map[string]interface{}{"card_id": *cardID, "error": err.Error()})
		return 1
	}

	if writeErr := writeReport(*reportDir, report); writeErr != nil {
		logger.Warn("failed to write report artifact", map[string]interface{}{"card_id": *cardID, "error": writeErr.Error()})
	}

	return exitCodeFor(report.Status)
}

func writeReport(dir string, report *pipeline.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("pipeline_full_report_%s.json", report.CardID))
	return os.WriteFile(path, data, 0o644)
}

func exitCodeFor(status string) int {
	switch {
	case status == "COMPLETED_SUCCESSFULLY":
		return 0
	case status == "FAILED_CODE_REVIEW":
		return 2
	case strings.HasPrefix(status, "FAILED_STAGE:"):
		return 3
	default:
		return 1
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
