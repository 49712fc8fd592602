package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type DatabaseConfig struct {
	// Driver is one of pgdriver, pq or sqlite.
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type StorageConfig struct {
	// Backend is minio or local.
	Backend    string `yaml:"backend"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Secure     bool   `yaml:"secure"`
	LocalDir   string `yaml:"local_dir"`
	URLTTLSecs int    `yaml:"url_ttl_secs"`
}

type IndexConfig struct {
	Dir      string `yaml:"dir"`
	TextDim  int    `yaml:"text_dim"`
	ImageDim int    `yaml:"image_dim"`
}

type LLMConfig struct {
	// Provider is ollama or openai.
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type ServiceConfig struct {
	BaseURL     string `yaml:"base_url"`
	Key         string `yaml:"key"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type RAGConfig struct {
	ChunkSize            int     `yaml:"chunk_size"`
	ChunkOverlap         int     `yaml:"chunk_overlap"`
	TopK                 int     `yaml:"top_k"`
	Temperature          *float64 `yaml:"temperature"`
	MaxTokens            int     `yaml:"max_tokens"`
	ExpansionTemperature *float64 `yaml:"expansion_temperature"`
	ExpansionMaxTokens   int     `yaml:"expansion_max_tokens"`
	MinSegmentSecs       float64 `yaml:"min_segment_secs"`
	TimeWindowSecs       float64 `yaml:"time_window_secs"`
}

type IngestConfig struct {
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	TempDir   string `yaml:"temp_dir"`
}

type Config struct {
	Log            LogConfig      `yaml:"log"`
	Database       DatabaseConfig `yaml:"database"`
	Storage        StorageConfig  `yaml:"storage"`
	Index          IndexConfig    `yaml:"index"`
	EmbedLLM       LLMConfig      `yaml:"embed_llm"`
	ImageEmbed     ServiceConfig  `yaml:"image_embed"`
	ImageTextEmbed ServiceConfig  `yaml:"image_text_embed"`
	Transcribe     ServiceConfig  `yaml:"transcribe"`
	LLM            LLMConfig      `yaml:"llm"`
	RAG            RAGConfig      `yaml:"rag"`
	Ingest         IngestConfig   `yaml:"ingest"`
}

// LoadConfig reads the yaml file at path after loading .env, expanding ${VAR}
// references. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "./data/metadata.db"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./data/blobs"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "rag-documents"
	}
	if cfg.Storage.URLTTLSecs == 0 {
		cfg.Storage.URLTTLSecs = 3600
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = "./data/indices"
	}
	if cfg.Index.TextDim == 0 {
		cfg.Index.TextDim = 384
	}
	if cfg.Index.ImageDim == 0 {
		cfg.Index.ImageDim = 512
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == "ollama" {
		cfg.EmbedLLM.BaseURL = "http://localhost:11434"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "all-minilm"
	}
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = 32
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "mistral:7b-instruct"
	}
	for _, svc := range []*ServiceConfig{&cfg.ImageEmbed, &cfg.ImageTextEmbed, &cfg.Transcribe} {
		if svc.TimeoutSecs == 0 {
			svc.TimeoutSecs = 120
		}
	}
	if cfg.Transcribe.Model == "" {
		cfg.Transcribe.Model = "whisper-1"
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 512
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 50
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	// temperature 0 is a valid setting, only an absent key gets the default
	if cfg.RAG.Temperature == nil {
		cfg.RAG.Temperature = floatPtr(0.1)
	}
	if cfg.RAG.MaxTokens == 0 {
		cfg.RAG.MaxTokens = 512
	}
	if cfg.RAG.ExpansionTemperature == nil {
		cfg.RAG.ExpansionTemperature = floatPtr(0.7)
	}
	if cfg.RAG.ExpansionMaxTokens == 0 {
		cfg.RAG.ExpansionMaxTokens = 200
	}
	if cfg.RAG.MinSegmentSecs == 0 {
		cfg.RAG.MinSegmentSecs = 5
	}
	if cfg.RAG.TimeWindowSecs == 0 {
		cfg.RAG.TimeWindowSecs = 30
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 64
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
