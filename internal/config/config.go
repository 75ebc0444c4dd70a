package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `yaml:"max_request_bytes"`

	// AllowOrigins feeds the CORS middleware. Empty keeps same-origin only.
	AllowOrigins []string `yaml:"allow_origins,omitempty"`
}

type OllamaConfig struct {
	// BaseURL is the inference server root, without the endpoint path.
	BaseURL      string `yaml:"base_url"`
	GeneratePath string `yaml:"generate_path"`
	Model        string `yaml:"model"`

	// Timeout bounds a single generate call. Zero waits for as long as the
	// server takes.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Malformed response policies.
const (
	MalformedKeep  = "keep"
	MalformedError = "error"
)

type ControllerConfig struct {
	// MalformedResponse decides what the answer panel shows when the server
	// replies with something that is not {"response": "<text>"}:
	// - "keep": leave the previous answer in place
	// - "error": show a distinct error message
	MalformedResponse string `yaml:"malformed_response"`

	// SessionIdleTimeout evicts page sessions that have not been touched.
	SessionIdleTimeout Duration `yaml:"session_idle_timeout"`
}

type Config struct {
	Env        string           `yaml:"env"`
	HTTP       HTTPConfig       `yaml:"http"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Controller ControllerConfig `yaml:"controller"`
}
