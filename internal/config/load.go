package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultGeneratePath  = "/api/generate"
	DefaultModel         = "llama3.3"
)

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, got kind %d", node.Kind)
	}
	s := strings.TrimSpace(node.Value)
	if s == "" || s == "null" || s == "~" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must look like \"5s\" or an int number of seconds: %w", err)
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   1 << 20,
		},
		Ollama: OllamaConfig{
			BaseURL:      DefaultOllamaBaseURL,
			GeneratePath: DefaultGeneratePath,
			Model:        DefaultModel,
		},
		Controller: ControllerConfig{
			MalformedResponse:  MalformedKeep,
			SessionIdleTimeout: Duration{Duration: 30 * time.Minute},
		},
	}
}

// Load builds the config from defaults, an optional YAML file and env
// overrides, in that order, then validates it.
func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("ASK_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	applyEnv(cfg)

	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("ASK_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ASK_OLLAMA_BASE_URL")); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ASK_OLLAMA_MODEL")); v != "" {
		cfg.Ollama.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("ASK_MALFORMED_RESPONSE")); v != "" {
		cfg.Controller.MalformedResponse = v
	}
	if v := strings.TrimSpace(os.Getenv("ASK_ALLOW_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.HTTP.AllowOrigins = origins
	}
}

func normalize(cfg *Config) error {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 1 << 20
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}

	o := &cfg.Ollama
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.BaseURL == "" {
		return errors.New("ollama.base_url is required")
	}
	if u, err := url.Parse(o.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ollama.base_url %q is not an absolute url", o.BaseURL)
	}
	o.GeneratePath = strings.TrimSpace(o.GeneratePath)
	if o.GeneratePath == "" {
		o.GeneratePath = DefaultGeneratePath
	}
	if !strings.HasPrefix(o.GeneratePath, "/") {
		o.GeneratePath = "/" + o.GeneratePath
	}
	o.Model = strings.TrimSpace(o.Model)
	if o.Model == "" {
		return errors.New("ollama.model is required")
	}
	if o.Timeout.Duration < 0 {
		return errors.New("ollama.timeout must not be negative")
	}

	c := &cfg.Controller
	c.MalformedResponse = strings.ToLower(strings.TrimSpace(c.MalformedResponse))
	switch c.MalformedResponse {
	case "":
		c.MalformedResponse = MalformedKeep
	case MalformedKeep, MalformedError:
	default:
		return fmt.Errorf("invalid controller.malformed_response=%q", c.MalformedResponse)
	}
	if c.SessionIdleTimeout.Duration <= 0 {
		c.SessionIdleTimeout = Duration{Duration: 30 * time.Minute}
	}
	return nil
}

// GenerateURL is the full endpoint the controller posts to.
func (o OllamaConfig) GenerateURL() string {
	return o.BaseURL + o.GeneratePath
}
