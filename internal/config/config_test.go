package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			CORS: CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 2,
				Burst:             5,
			},
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Host:     "localhost",
			Port:     3306,
			Database: "studycore",
			Username: "user",
			Path:     "studycore.db",
		},
		Generation: GenerationConfig{
			MinItems:      5,
			MaxItems:      150,
			RetryAttempts: 3,
			RetryDelays:   []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond},
			StaleAfter:    5 * time.Minute,
			Worker: WorkerConfig{
				Concurrency:  2,
				PollInterval: 2 * time.Second,
				BatchSize:    10,
			},
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     time.Minute,
			OpenAI:      ProviderConfig{Model: "gpt-4o-mini"},
			Anthropic:   ProviderConfig{Model: "claude-haiku"},
			Gemini:      ProviderConfig{Model: "gemini-flash"},
			OpenRouter:  ProviderConfig{Model: "openai/gpt-4o-mini"},
		},
		Redis: RedisConfig{Channel: "studycore.generation"},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 0.1,
			ServiceName: "studycore",
		},
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestConfigLoader_Load(t *testing.T) {
	templateFile := filepath.Join(t.TempDir(), "prompt.tmpl")
	require.NoError(t, os.WriteFile(templateFile, []byte("{{.Topic}}"), 0644))

	tests := []struct {
		name              string
		configContent     string
		useExplicitPath   bool
		env               map[string]string
		want              func() *Config
		wantErrorContains []string
	}{
		{
			name:          "no config file uses defaults",
			configContent: "",
			want:          defaultConfig,
		},
		{
			name: "custom values override defaults",
			configContent: `server:
  port: 9090
database:
  driver: mysql
  host: db.internal
  port: 3307
generation:
  max_items: 50
  retry_delays: [100ms, 200ms]
  worker:
    enabled: true
    concurrency: 4
`,
			want: func() *Config {
				cfg := defaultConfig()
				cfg.Server.Port = 9090
				cfg.Database.Driver = "mysql"
				cfg.Database.Host = "db.internal"
				cfg.Database.Port = 3307
				cfg.Generation.MaxItems = 50
				cfg.Generation.RetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
				cfg.Generation.Worker.Enabled = true
				cfg.Generation.Worker.Concurrency = 4
				return cfg
			},
		},
		{
			name:            "explicit path with prompt template",
			useExplicitPath: true,
			configContent: `generation:
  prompt_template: ` + templateFile + `
llm:
  provider: anthropic
`,
			env: map[string]string{"ANTHROPIC_API_KEY": "sk-ant"},
			want: func() *Config {
				cfg := defaultConfig()
				cfg.Generation.PromptTemplate = templateFile
				cfg.LLM.Provider = "anthropic"
				cfg.LLM.Anthropic.APIKey = "sk-ant"
				return cfg
			},
		},
		{
			name:          "secrets come from the environment",
			configContent: "",
			env: map[string]string{
				"OPENAI_API_KEY": "sk-test",
				"DB_PASSWORD":    "secret",
			},
			want: func() *Config {
				cfg := defaultConfig()
				cfg.LLM.OpenAI.APIKey = "sk-test"
				cfg.Database.Password = "secret"
				return cfg
			},
		},
		{
			name: "invalid YAML format",
			configContent: `server:
  port: 9090
  invalid yaml format here [[[
`,
			wantErrorContains: []string{
				"configuration file found but could not be read",
				"Please check the file format and permissions",
			},
		},
		{
			name: "unknown provider fails validation",
			configContent: `llm:
  provider: cohere
`,
			wantErrorContains: []string{"invalid configuration", "provider"},
		},
		{
			name: "max items below min items fails validation",
			configContent: `generation:
  min_items: 10
  max_items: 5
`,
			wantErrorContains: []string{"invalid configuration", "max_items"},
		},
		{
			name: "missing prompt template file fails validation",
			configContent: `generation:
  prompt_template: /does/not/exist.tmpl
`,
			wantErrorContains: []string{"must be an existing and readable file"},
		},
		{
			name: "non-positive retry delay fails validation",
			configContent: `generation:
  retry_delays: [500ms, 0s]
`,
			wantErrorContains: []string{"generation.retry_delays must only contain positive durations"},
		},
		{
			name: "redis enabled without address fails validation",
			configContent: `redis:
  enabled: true
`,
			wantErrorContains: []string{"invalid configuration", "addr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tempDir := t.TempDir()

			var configPath string
			if tt.useExplicitPath {
				configPath = filepath.Join(tempDir, "studycore.yml")
				require.NoError(t, os.WriteFile(configPath, []byte(tt.configContent), 0644))
			} else {
				if tt.configContent != "" {
					require.NoError(t, os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(tt.configContent), 0644))
				}
				t.Chdir(tempDir)
			}

			loader, err := NewConfigLoader(configPath)
			require.NoError(t, err)
			got, err := loader.Load()

			if len(tt.wantErrorContains) > 0 {
				require.Error(t, err)
				assert.Nil(t, got)
				for _, wantMsg := range tt.wantErrorContains {
					assert.Contains(t, err.Error(), wantMsg)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want(), got)
		})
	}
}

func TestLLMConfig_ProviderSettings(t *testing.T) {
	cfg := LLMConfig{
		OpenAI:     ProviderConfig{Model: "o"},
		Anthropic:  ProviderConfig{Model: "a"},
		Gemini:     ProviderConfig{Model: "g"},
		OpenRouter: ProviderConfig{Model: "r"},
	}
	for provider, want := range map[string]string{"openai": "o", "anthropic": "a", "gemini": "g", "openrouter": "r"} {
		cfg.Provider = provider
		assert.Equal(t, want, cfg.ProviderSettings().Model, provider)
	}
}
