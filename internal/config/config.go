package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Workflow engine
	MaxAttempts        int
	EvalMinScore       int
	OverallRunDeadline time.Duration
	QueryStageDeadline time.Duration
	SearchDeadline     time.Duration
	GenerateDeadline   time.Duration
	EvaluateDeadline   time.Duration
	TriggerPhrases     []string
	RequireGrounding   bool

	// Source fan-out
	SearchTopK        int
	SnippetByteBudget int

	// Source adapters
	PublicSearchBaseURL string
	KnowledgeAPIURL     string
	KnowledgeAPIKey     string
	SemanticIndexName   string

	// LLM
	BedrockModelID          string
	BedrockEvaluatorModelID string
	BedrockEmbeddingModelID string
	GeminiAPIKey            string
	GeminiModelID           string

	// Async dispatch
	UseMemoryQueue   bool
	WorkerCount      int
	WorkflowQueueURL string
	WorkflowJobTable string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Redis (semantic index document cache)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Archive
	ArchiveBucket string

	// Escalation email
	EmailProvider      string
	SESFromEmail       string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SupervisorEmail    string
	EscalationsEnabled bool

	// Admin endpoints
	AdminJWTSecret string
}

// defaultTriggerPhrases match when the rep signals they are researching
// something on the customer's behalf.
var defaultTriggerPhrases = []string{
	"let me take a look",
	"let me check",
	"i'll look into",
	"i'll check that",
	"looking into",
	"checking that for you",
	"one moment please",
	"give me a moment",
	"let me find that",
	"searching for",
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		MaxAttempts:        getEnvAsInt("MAX_ATTEMPTS", 3),
		EvalMinScore:       getEnvAsInt("EVAL_MIN_SCORE", 3),
		OverallRunDeadline: getEnvAsDuration("OVERALL_RUN_DEADLINE", 90*time.Second),
		QueryStageDeadline: getEnvAsDuration("QUERY_STAGE_DEADLINE", 15*time.Second),
		SearchDeadline:     getEnvAsDuration("SEARCH_DEADLINE", 10*time.Second),
		GenerateDeadline:   getEnvAsDuration("GENERATE_DEADLINE", 30*time.Second),
		EvaluateDeadline:   getEnvAsDuration("EVALUATE_DEADLINE", 20*time.Second),
		TriggerPhrases:     getEnvAsList("TRIGGER_PHRASES", defaultTriggerPhrases),
		RequireGrounding:   getEnvAsBool("REQUIRE_GROUNDING", true),

		SearchTopK:        getEnvAsInt("SEARCH_TOP_K", 5),
		SnippetByteBudget: getEnvAsInt("SNIPPET_BYTE_BUDGET", 2048),

		PublicSearchBaseURL: getEnv("PUBLIC_SEARCH_BASE_URL", "https://www.fidelity.com"),
		KnowledgeAPIURL:     getEnv("KNOWLEDGE_API_URL", ""),
		KnowledgeAPIKey:     getEnv("KNOWLEDGE_API_KEY", ""),
		SemanticIndexName:   getEnv("SEMANTIC_INDEX_NAME", "assist_knowledge"),

		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEvaluatorModelID: getEnv("BEDROCK_EVALUATOR_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", ""),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:           getEnv("GEMINI_MODEL_ID", ""),

		UseMemoryQueue:   getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 2),
		WorkflowQueueURL: getEnv("WORKFLOW_QUEUE_URL", ""),
		WorkflowJobTable: getEnv("WORKFLOW_JOBS_TABLE", "workflow_jobs"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),

		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Rep Assist"),
		SupervisorEmail:    getEnv("SUPERVISOR_EMAIL", ""),
		EscalationsEnabled: getEnvAsBool("ESCALATIONS_ENABLED", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value; empty entries are dropped.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
