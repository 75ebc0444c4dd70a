package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/devcolor-ask/internal/http/response"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
)

const defaultPingTimeout = 2 * time.Second

// Pinger is the inference server as the health check sees it.
type Pinger interface {
	Ping(ctx context.Context) error
	Endpoint() string
}

type HealthHandler struct {
	log       *logger.Logger
	inference Pinger
	timeout   time.Duration
}

// NewHealthHandler reports process health plus whether the inference server
// answers. A nil pinger means no inference server is configured.
func NewHealthHandler(log *logger.Logger, inference Pinger) *HealthHandler {
	return &HealthHandler{log: log, inference: inference, timeout: defaultPingTimeout}
}

type inferenceHealth struct {
	Configured bool   `json:"configured"`
	Endpoint   string `json:"endpoint,omitempty"`
	Reachable  bool   `json:"reachable"`
	Error      string `json:"error,omitempty"`
}

type healthBody struct {
	Status    string          `json:"status"`
	Inference inferenceHealth `json:"inference"`
}

// GET /healthz
//
// Always 200 while the process serves: an unreachable inference server only
// degrades answers, the page itself still works. Without a pinger the status
// is "ok" and inference.configured is false.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	body := healthBody{Status: "ok"}
	if h.inference == nil {
		response.RespondOK(c, body)
		return
	}

	body.Inference.Configured = true
	body.Inference.Endpoint = h.inference.Endpoint()
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.inference.Ping(ctx); err != nil {
		body.Status = "degraded"
		body.Inference.Error = err.Error()
		if h.log != nil {
			h.log.Warn("inference server unreachable", "endpoint", body.Inference.Endpoint, "error", err)
		}
	} else {
		body.Inference.Reachable = true
	}
	response.RespondOK(c, body)
}
