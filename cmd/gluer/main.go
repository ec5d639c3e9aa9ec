// Command gluer runs the transcript pipeline. The phase is selected
// with GLUER_PHASE: "reconstruct" rebuilds the scrambled conversations,
// "index" loads the fact documents into the vector store, and "answer"
// runs the question-answering orchestrator. Reconstruction and
// answering suspend at human checkpoints; re-running the command with
// the same GLUER_SESSION resumes from the last checkpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/qemc/conversation-gluer/internal/apiagent"
	"github.com/qemc/conversation-gluer/internal/config"
	"github.com/qemc/conversation-gluer/internal/facts"
	"github.com/qemc/conversation-gluer/internal/hitl"
	"github.com/qemc/conversation-gluer/internal/llm"
	"github.com/qemc/conversation-gluer/internal/orchestrator"
	"github.com/qemc/conversation-gluer/internal/qdrant"
	"github.com/qemc/conversation-gluer/internal/reconstruct"
	"github.com/qemc/conversation-gluer/internal/transcript"
	"github.com/qemc/conversation-gluer/internal/verify"
	"github.com/qemc/conversation-gluer/pkg/graph/checkpoint"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var llmOpts []llm.OpenAIOption
	if cfg.OpenAIBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.OpenAIBaseURL))
	}
	llmOpts = append(llmOpts,
		llm.WithModel(cfg.Model),
		llm.WithEmbedModel(cfg.EmbedModel),
	)
	client := llm.NewOpenAI(cfg.OpenAIKey, llmOpts...)

	switch cfg.Phase {
	case config.PhaseReconstruct:
		return runReconstruct(ctx, cfg, client, logger)
	case config.PhaseIndex:
		return runIndex(ctx, cfg, client, logger)
	case config.PhaseAnswer:
		return runAnswer(ctx, cfg, client, logger)
	default:
		return fmt.Errorf("unknown phase %q", cfg.Phase)
	}
}

// session returns the configured session id, or a fresh one when this
// run has nothing to resume.
func session(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Session != "" {
		return cfg.Session
	}
	id := uuid.NewString()
	logger.Info("no session configured, starting fresh",
		slog.String("session", id),
	)
	return id
}

func openCheckpoints(cfg *config.Config) (checkpoint.Store, error) {
	return checkpoint.NewSQLiteStore(cfg.CheckpointPath)
}

func runReconstruct(ctx context.Context, cfg *config.Config, client llm.Client, logger *slog.Logger) error {
	loader := transcript.NewLoader()
	src, err := loader.FetchSource(ctx, cfg.SourceURL)
	if err != nil {
		return err
	}

	store, err := transcript.NewStore(cfg.ConvPath)
	if err != nil {
		return err
	}

	checkpoints, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	wf := reconstruct.New(client, store, cfg.ReasonModel, logger)
	approver := hitl.NewConsole(os.Stdin, os.Stdout)
	return wf.Run(ctx, src, approver, checkpoints, session(cfg, logger))
}

func runIndex(ctx context.Context, cfg *config.Config, client llm.Client, logger *slog.Logger) error {
	store := qdrant.New(cfg.QdrantURL,
		qdrant.WithAPIKey(cfg.QdrantAPIKey),
		qdrant.WithLogger(logger),
	)
	indexer := facts.NewIndexer(client, store, cfg.QdrantCollection, cfg.VectorSize, logger)
	return indexer.Index(ctx, cfg.FactsPath)
}

func runAnswer(ctx context.Context, cfg *config.Config, client llm.Client, logger *slog.Logger) error {
	loader := transcript.NewLoader()
	questions, err := loader.FetchQuestions(ctx, cfg.QuestionsURL)
	if err != nil {
		return err
	}

	store, err := transcript.NewStore(cfg.ConvPath)
	if err != nil {
		return err
	}
	conversations, err := store.LoadAll()
	if err != nil {
		return err
	}
	if len(conversations) == 0 {
		return fmt.Errorf("no reconstructed conversations in %s; run the reconstruct phase first", cfg.ConvPath)
	}

	vectors := qdrant.New(cfg.QdrantURL,
		qdrant.WithAPIKey(cfg.QdrantAPIKey),
		qdrant.WithLogger(logger),
	)
	retriever := facts.NewRetriever(client, vectors, cfg.QdrantCollection, logger)
	verifier := verify.NewClient(cfg.VerifyURL, verify.WithLogger(logger))
	agent := apiagent.New(client, cfg.Model, logger)

	checkpoints, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	wf := orchestrator.New(client, cfg.Model, retriever, verifier, agent, cfg.VerifyTask, cfg.VerifyAPIKey, logger)
	approver := hitl.NewConsole(os.Stdin, os.Stdout)

	answers, err := wf.Run(ctx, questions, conversations, approver, checkpoints, session(cfg, logger))
	if err != nil {
		return err
	}

	for _, a := range answers {
		fmt.Printf("%02d: %s\n", a.QuestionID, a.Answer)
	}
	return nil
}
