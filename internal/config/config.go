// Package config assembles runtime configuration from an optional YAML
// file and the process environment. Environment variables always win
// over file values; a .env file in the working directory is folded into
// the environment first.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Phase selects which stage of the pipeline to run.
type Phase string

const (
	// PhaseReconstruct runs the conversation reconstruction workflow.
	PhaseReconstruct Phase = "reconstruct"
	// PhaseIndex loads and indexes the fact documents.
	PhaseIndex Phase = "index"
	// PhaseAnswer runs the question-answering orchestrator.
	PhaseAnswer Phase = "answer"
)

// Config is the full runtime configuration.
type Config struct {
	Phase Phase

	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	ReasonModel   string
	EmbedModel    string

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	VectorSize       int

	VerifyURL    string
	VerifyAPIKey string
	VerifyTask   string

	SourceURL    string
	QuestionsURL string

	FactsPath string
	ConvPath  string

	CheckpointPath string
	Session        string
}

// envKeys maps Config concerns to their environment variable names.
// The same keys are accepted in the YAML file, lowercased.
const (
	envPhase            = "GLUER_PHASE"
	envOpenAIKey        = "OPENAI_API_KEY"
	envOpenAIBaseURL    = "OPENAI_BASE_URL"
	envModel            = "GLUER_MODEL"
	envReasonModel      = "GLUER_REASON_MODEL"
	envEmbedModel       = "GLUER_EMBED_MODEL"
	envQdrantURL        = "QDRANT_URL"
	envQdrantAPIKey     = "QDRANT_API_KEY"
	envQdrantCollection = "QDRANT_COLLECTION"
	envVectorSize       = "GLUER_VECTOR_SIZE"
	envVerifyURL        = "VERIFY_URL"
	envVerifyAPIKey     = "VERIFY_APIKEY"
	envVerifyTask       = "VERIFY_TASK"
	envSourceURL        = "SOURCE_URL"
	envQuestionsURL     = "QUESTIONS_URL"
	envFactsPath        = "FACTS_PATH"
	envConvPath         = "CONV_PATH"
	envCheckpointPath   = "GLUER_CHECKPOINT_PATH"
	envSession          = "GLUER_SESSION"
	envConfigFile       = "GLUER_CONFIG"
)

// Load builds the configuration. A .env file is applied if present,
// then the YAML file named by GLUER_CONFIG (if any), then environment
// variables on top.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	vals := Values{}
	if path := os.Getenv(envConfigFile); path != "" {
		fileVals, err := FromFile(path)
		if err != nil {
			return nil, err
		}
		vals = fileVals
	}

	get := func(envKey, fileKey, def string) string {
		if v := os.Getenv(envKey); v != "" {
			return v
		}
		return vals.String(fileKey, def)
	}

	vectorSize := vals.Int("vector_size", 1536)
	if v := os.Getenv(envVectorSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envVectorSize, err)
		}
		vectorSize = n
	}

	cfg := &Config{
		Phase:            Phase(get(envPhase, "phase", string(PhaseAnswer))),
		OpenAIKey:        get(envOpenAIKey, "openai_api_key", ""),
		OpenAIBaseURL:    get(envOpenAIBaseURL, "openai_base_url", ""),
		Model:            get(envModel, "model", "gpt-4o-mini"),
		ReasonModel:      get(envReasonModel, "reason_model", "o3-mini"),
		EmbedModel:       get(envEmbedModel, "embed_model", "text-embedding-3-small"),
		QdrantURL:        get(envQdrantURL, "qdrant_url", "http://localhost:6333"),
		QdrantAPIKey:     get(envQdrantAPIKey, "qdrant_api_key", ""),
		QdrantCollection: get(envQdrantCollection, "qdrant_collection", "facts"),
		VectorSize:       vectorSize,
		VerifyURL:        get(envVerifyURL, "verify_url", ""),
		VerifyAPIKey:     get(envVerifyAPIKey, "verify_apikey", ""),
		VerifyTask:       get(envVerifyTask, "verify_task", "phone"),
		SourceURL:        get(envSourceURL, "source_url", ""),
		QuestionsURL:     get(envQuestionsURL, "questions_url", ""),
		FactsPath:        get(envFactsPath, "facts_path", "facts"),
		ConvPath:         get(envConvPath, "conv_path", "conversations"),
		CheckpointPath:   get(envCheckpointPath, "checkpoint_path", "gluer.db"),
		Session:          get(envSession, "session", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Phase {
	case PhaseReconstruct, PhaseIndex, PhaseAnswer:
	default:
		return fmt.Errorf("unknown phase %q", c.Phase)
	}
	if c.OpenAIKey == "" {
		return fmt.Errorf("%s is required", envOpenAIKey)
	}
	switch c.Phase {
	case PhaseReconstruct:
		if c.SourceURL == "" {
			return fmt.Errorf("%s is required for phase %s", envSourceURL, c.Phase)
		}
	case PhaseAnswer:
		if c.QuestionsURL == "" {
			return fmt.Errorf("%s is required for phase %s", envQuestionsURL, c.Phase)
		}
		if c.VerifyURL == "" {
			return fmt.Errorf("%s is required for phase %s", envVerifyURL, c.Phase)
		}
	}
	return nil
}
