package model

import "time"

// ----------------------------------------------------
// ================ Config ================

// LogConfig configures the global zerolog logger
type LogConfig struct {
	Level      string `envconfig:"LEVEL" default:"info"`
	Format     string `envconfig:"FORMAT" default:"console"` // console | json
	Output     string `envconfig:"OUTPUT" default:"stderr"`  // stdout | stderr | file
	FilePath   string `envconfig:"FILE_PATH" default:"logs/parley.log"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"rfc3339"`
}

// LLMConfig selects and configures the chat model provider
type LLMConfig struct {
	Provider    string  `envconfig:"PROVIDER" default:"openai"` // openai | ollama | deepseek | ark
	Model       string  `envconfig:"MODEL" default:"openai/gpt-4o-mini"`
	APIKey      string  `envconfig:"API_KEY"`
	BaseURL     string  `envconfig:"BASE_URL"` // empty picks the provider default
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"1024"`
	Temperature float64 `envconfig:"TEMPERATURE" default:"0.8"`

	// DeltaTemperature is used for the structured delta judgement, which wants little creativity.
	DeltaTemperature float64       `envconfig:"DELTA_TEMPERATURE" default:"0.1"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"90s"`
}

// StoreConfig selects the persistent key-value backend
type StoreConfig struct {
	Backend   string        `envconfig:"BACKEND" default:"file"` // redis | file | sqlite | memory
	RedisURL  string        `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	RedisTTL  time.Duration `envconfig:"REDIS_TTL" default:"0"`
	Dir       string        `envconfig:"DIR" default:"data"`
	SQLiteDSN string        `envconfig:"SQLITE_DSN" default:"data/parley.db"`
}

// SessionConfig tunes the chat session manager
type SessionConfig struct {
	// HistoryTurns is the number of most recent messages handed to the language model.
	HistoryTurns int `envconfig:"HISTORY_TURNS" default:"20"`
	// DeltaQueueSize bounds the pending delta-generation jobs of one session.
	DeltaQueueSize int `envconfig:"DELTA_QUEUE_SIZE" default:"16"`
	// SummarizeOnCommit appends a chat summary to the relationship on every commit.
	SummarizeOnCommit bool   `envconfig:"SUMMARIZE_ON_COMMIT" default:"true"`
	RosterFile        string `envconfig:"ROSTER_FILE" default:"roster.yaml"`
}
