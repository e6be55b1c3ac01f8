package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/flosch/pongo2/v6"
	"github.com/joho/godotenv"
)

const DefaultSystemPrompt = `You are an assistant that helps users by utilizing available tools whenever possible.
Before generating a response, always check if there is a relevant tool available that can provide the necessary information.
When a user asks for specific details (like product details), extract the necessary information (such as product IDs) from the user's input and use the corresponding tool to get the details.
Only generate a response directly if no tool is available or applicable.`

type Config struct {
	DefaultLLM   string                `toml:"default_llm"`
	SystemPrompt string                `toml:"system_prompt"`
	LLMs         map[string]*LLMConfig `toml:"llm"`
	Store        StoreConfig           `toml:"store"`
	Gateway      GatewayConfig         `toml:"gateway"`
	Trace        TraceConfig           `toml:"trace"`
	Services     ServicesConfig        `toml:"services"`
}

// LLMConfig is one entry of the model catalogue.
type LLMConfig struct {
	Name          string `toml:"name"`
	Model         string `toml:"model"`
	Provider      string `toml:"provider"`
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	APIKeyEnv     string `toml:"api_key_env"`
	ContextWindow int    `toml:"context_window"`
	Tools         bool   `toml:"tools"`
}

// Key resolves the API key, preferring an explicit value over the env var.
func (l *LLMConfig) Key() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	if l.APIKeyEnv != "" {
		return os.Getenv(l.APIKeyEnv)
	}
	return ""
}

type StoreConfig struct {
	Backend string `toml:"backend"` // jsonl or sqlite
	Dir     string `toml:"dir"`
	DBPath  string `toml:"db_path"`
	Persist string `toml:"persist"` // turn, end or off
}

// GatewayConfig listens on loopback by default. Cross-origin browser access
// is denied unless the origin is listed.
type GatewayConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type TraceConfig struct {
	Endpoint string `toml:"endpoint"`
	URLPath  string `toml:"url_path"`
	APIKey   string `toml:"api_key"`
	Insecure bool   `toml:"insecure"`
}

type ServicesConfig struct {
	Brave BraveConfig `toml:"brave"`
}

type BraveConfig struct {
	APIKey string `toml:"api_key"`
}

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	openAIBaseURL = "https://api.openai.com/v1"
)

func Default() *Config {
	groq := func(name, model string, window int) *LLMConfig {
		return &LLMConfig{Name: name, Model: model, Provider: "groq", BaseURL: groqBaseURL, APIKeyEnv: "GROQ_API_KEY", ContextWindow: window}
	}
	openai := func(name, model string, window int) *LLMConfig {
		return &LLMConfig{Name: name, Model: model, Provider: "openai", BaseURL: openAIBaseURL, APIKeyEnv: "OPENAI_API_KEY", ContextWindow: window, Tools: true}
	}
	return &Config{
		DefaultLLM:   "llama3-8b",
		SystemPrompt: DefaultSystemPrompt,
		LLMs: map[string]*LLMConfig{
			"llama3-8b":     groq("LLaMA3 8b", "llama3-8b-8192", 8192),
			"llama3-70b":    groq("LLaMA3 70b", "llama3-70b-8192", 8192),
			"mixtral-8x7b":  groq("Mixtral 8x7b", "mixtral-8x7b-32768", 32768),
			"gemma-7b":      groq("Gemma 7b", "gemma-7b-it", 8192),
			"gpt-4o":        openai("GPT-4o", "gpt-4o", 128000),
			"gpt-4-turbo":   openai("GPT-4 Turbo", "gpt-4-turbo", 128000),
			"gpt-4":         openai("GPT-4", "gpt-4", 8192),
			"gpt-3.5-turbo": openai("GPT-3.5 Turbo", "gpt-3.5-turbo", 16385),
		},
		Store: StoreConfig{
			Backend: "jsonl",
			Dir:     "chats",
			DBPath:  defaultDBPath(),
			Persist: "turn",
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8484",
		},
	}
}

// Load reads .env from the working directory, then layers the TOML config
// file over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	return LoadFile(configPath())
}

// LoadFile layers path over the defaults. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, ok := c.LLMs[c.DefaultLLM]; !ok {
		return fmt.Errorf("default LLM %q not found in config", c.DefaultLLM)
	}
	for key, l := range c.LLMs {
		if l.Model == "" {
			return fmt.Errorf("llm %q: model is empty", key)
		}
	}
	switch c.Store.Backend {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Store.Persist {
	case "turn", "end", "off":
	default:
		return fmt.Errorf("unknown persist mode %q", c.Store.Persist)
	}
	return nil
}

// LLM looks up a catalogue entry by key.
func (c *Config) LLM(key string) (*LLMConfig, error) {
	l, ok := c.LLMs[key]
	if !ok {
		return nil, fmt.Errorf("unknown llm %q", key)
	}
	return l, nil
}

// LLMKeys returns catalogue keys in sorted order.
func (c *Config) LLMKeys() []string {
	keys := make([]string, 0, len(c.LLMs))
	for k := range c.LLMs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ModelInfo is the public view of a catalogue entry.
type ModelInfo struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"context_window"`
	Tools         bool   `json:"tools"`
	Default       bool   `json:"default"`
}

func (c *Config) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.LLMs))
	for _, key := range c.LLMKeys() {
		l := c.LLMs[key]
		out = append(out, ModelInfo{
			Key:           key,
			Name:          l.Name,
			Model:         l.Model,
			Provider:      l.Provider,
			ContextWindow: l.ContextWindow,
			Tools:         l.Tools,
			Default:       key == c.DefaultLLM,
		})
	}
	return out
}

// RenderSystemPrompt expands the prompt template with the model key and the
// current date.
func (c *Config) RenderSystemPrompt(llmKey string, now time.Time) (string, error) {
	tpl, err := pongo2.FromString(c.SystemPrompt)
	if err != nil {
		return "", fmt.Errorf("parsing system prompt: %w", err)
	}
	var model string
	if l, ok := c.LLMs[llmKey]; ok {
		model = l.Model
	}
	out, err := tpl.Execute(pongo2.Context{
		"model": model,
		"llm":   llmKey,
		"today": now.Format("2006-01-02"),
	})
	if err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return out, nil
}

func configPath() string {
	if p := os.Getenv("PALAVER_CONFIG"); p != "" {
		return p
	}
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "palaver", "config.toml")
}

func defaultDBPath() string {
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".local", "share", "palaver", "palaver.db")
}
