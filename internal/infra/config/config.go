package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"forge-ai/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Agent       AgentConfig                  `yaml:"agent"`
	Compaction  CompactionConfig             `yaml:"compaction"`
	Permissions domain.ToolPermissionConfig  `yaml:"permissions"`
	MCP         MCPConfig                    `yaml:"mcp"`
	Skills      SkillsConfig                 `yaml:"skills"`
	Store       StoreConfig                  `yaml:"store"`
	Logger      LoggerConfig                 `yaml:"logger"`
	Tracer      TracerConfig                 `yaml:"tracer"`
	Breaker     BreakerConfig                `yaml:"circuit_breaker"`
	Includes    []string                     `yaml:"includes,omitempty"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	SystemPrompt  string `yaml:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations"`
	LoopWindow    int    `yaml:"loop_window"`
	WorkDir       string `yaml:"workdir"`
}

// CompactionConfig holds conversation compaction settings. It mirrors the
// compactor's own config so the infra layer stays independent of usecase.
type CompactionConfig struct {
	Enabled            bool    `yaml:"enabled"`
	TokenThreshold     float64 `yaml:"token_threshold"`
	MessageThreshold   int     `yaml:"message_threshold"`
	InceptionCount     int     `yaml:"inception_count"`
	WorkingWindowCount int     `yaml:"working_window_count"`
	Model              string  `yaml:"model,omitempty"`
}

// MCPConfig holds MCP server definitions and OAuth token storage settings.
type MCPConfig struct {
	Servers         map[string]domain.ServerConfig `yaml:"servers"`
	TokenDir        string                         `yaml:"token_dir"`
	TokenPassphrase string                         `yaml:"token_passphrase,omitempty"`
	CallbackPort    int                            `yaml:"callback_port"`
}

// SkillsConfig holds skill library settings.
type SkillsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// StoreConfig holds session persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// BreakerConfig holds LLM circuit breaker settings.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// defaultDataDir returns the persistent data directory under $HOME/.forgeai/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".forgeai", "data")
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Agent: AgentConfig{
			Provider:      "anthropic",
			MaxIterations: 200,
			LoopWindow:    5,
			WorkDir:       ".",
			SystemPrompt:  "You are forge-ai, a coding assistant.",
		},
		Compaction: CompactionConfig{
			Enabled:            true,
			TokenThreshold:     0.8,
			InceptionCount:     2,
			WorkingWindowCount: 10,
		},
		Permissions: domain.ToolPermissionConfig{},
		MCP: MCPConfig{
			Servers:      map[string]domain.ServerConfig{},
			TokenDir:     filepath.Join(dataDir, "tokens"),
			CallbackPort: 8976,
		},
		Skills: SkillsConfig{
			Enabled: true,
			Dir:     filepath.Join(dataDir, "skills"),
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "sessions.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled: false,
		},
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
	}
}

// Load reads the config file at path, merges includes, applies environment
// overrides, and validates the result. A missing file is not an error: the
// defaults (plus env overrides) are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("FORGE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps FORGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGE_AGENT_PROVIDER"); v != "" {
		cfg.Agent.Provider = v
	}
	if v := os.Getenv("FORGE_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("FORGE_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("FORGE_AGENT_WORKDIR"); v != "" {
		cfg.Agent.WorkDir = v
	}
	if v := os.Getenv("FORGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FORGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FORGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FORGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("FORGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FORGE_SKILLS_DIR"); v != "" {
		cfg.Skills.Dir = v
	}
	if v := os.Getenv("FORGE_MCP_TOKEN_DIR"); v != "" {
		cfg.MCP.TokenDir = v
	}
	if v := os.Getenv("FORGE_MCP_TOKEN_PASSPHRASE"); v != "" {
		cfg.MCP.TokenPassphrase = v
	}
	if v := os.Getenv("FORGE_MCP_CALLBACK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.MCP.CallbackPort = n
		}
	}
	if v := os.Getenv("FORGE_COMPACTION_ENABLED"); v == "false" {
		cfg.Compaction.Enabled = false
	}

	// Environment references inside MCP server definitions expand here so
	// credentials never have to live in the config file itself.
	for name, srv := range cfg.MCP.Servers {
		for k, val := range srv.Env {
			srv.Env[k] = os.ExpandEnv(val)
		}
		for k, val := range srv.Headers {
			srv.Headers[k] = os.ExpandEnv(val)
		}
		cfg.MCP.Servers[name] = srv
	}
}

const encPrefix = "enc:"

// decryptSecrets walks secret-bearing fields and decrypts any value carrying
// the "enc:" prefix using the passphrase from FORGE_CONFIG_KEY.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.MCP.TokenPassphrase, encPrefix) {
		v, err := DecryptValue(strings.TrimPrefix(cfg.MCP.TokenPassphrase, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("mcp.token_passphrase: %w", err)
		}
		cfg.MCP.TokenPassphrase = v
	}
	for name, srv := range cfg.MCP.Servers {
		for k, val := range srv.Headers {
			if !strings.HasPrefix(val, encPrefix) {
				continue
			}
			v, err := DecryptValue(strings.TrimPrefix(val, encPrefix), passphrase)
			if err != nil {
				return fmt.Errorf("mcp.servers.%s.headers.%s: %w", name, k, err)
			}
			srv.Headers[k] = v
		}
		for k, val := range srv.Env {
			if !strings.HasPrefix(val, encPrefix) {
				continue
			}
			v, err := DecryptValue(strings.TrimPrefix(val, encPrefix), passphrase)
			if err != nil {
				return fmt.Errorf("mcp.servers.%s.env.%s: %w", name, k, err)
			}
			srv.Env[k] = v
		}
	}
	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM under a key derived from
// passphrase. The output is hex(salt) + ":" + hex(nonce || ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed encrypted value")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
