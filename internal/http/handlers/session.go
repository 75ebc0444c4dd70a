package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/yungbote/devcolor-ask/internal/controller"
	"github.com/yungbote/devcolor-ask/internal/http/response"
	"github.com/yungbote/devcolor-ask/internal/platform/apierr"
	"github.com/yungbote/devcolor-ask/internal/platform/logger"
	"github.com/yungbote/devcolor-ask/internal/realtime"
	"github.com/yungbote/devcolor-ask/internal/view"
)

var errSessionNotFound = errors.New("session not found")

type SessionHandler struct {
	log      *logger.Logger
	sessions *controller.Registry
	hub      *realtime.Hub
}

func NewSessionHandler(log *logger.Logger, sessions *controller.Registry, hub *realtime.Hub) *SessionHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SessionHandler{
		log:      log.With("component", "SessionHandler"),
		sessions: sessions,
		hub:      hub,
	}
}

// questionRequest carries the typed text. Seq, when present, numbers input
// events from one page so late arrivals can be dropped.
type questionRequest struct {
	Question *string `json:"question" form:"question"`
	Seq      *uint64 `json:"seq" form:"seq"`
}

func (r questionRequest) apply(ctrl *controller.Controller) {
	if r.Question == nil {
		return
	}
	if r.Seq != nil {
		ctrl.OnSequencedInput(*r.Question, *r.Seq)
		return
	}
	ctrl.OnInputChange(*r.Question)
}

// applySubmitted sets the question carried by a submit. It is the text the
// user is asking about, so it is applied whatever its seq.
func (r questionRequest) applySubmitted(ctrl *controller.Controller) {
	if r.Question == nil {
		return
	}
	if r.Seq != nil && ctrl.OnSequencedInput(*r.Question, *r.Seq) {
		return
	}
	ctrl.OnInputChange(*r.Question)
}

// GET /
func (h *SessionHandler) Page(c *gin.Context) {
	id, ctrl := h.lookupOrOpen(c.Query("session"))

	var buf bytes.Buffer
	if err := view.Page(&buf, view.PageData{SessionID: id.String(), State: ctrl.State(), LastSeq: ctrl.LastSeq()}); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// POST /sessions/:id/input
func (h *SessionHandler) Input(c *gin.Context) {
	_, ctrl, ok := h.session(c)
	if !ok {
		return
	}
	req, err := bindQuestion(c)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if req.Question == nil {
		response.RespondAPIError(c, apierr.BadRequest("invalid_request", errors.New("question is required")))
		return
	}
	req.apply(ctrl)
	c.Status(http.StatusNoContent)
}

// POST /sessions/:id/ask
func (h *SessionHandler) Ask(c *gin.Context) {
	id, ctrl, ok := h.session(c)
	if !ok {
		return
	}
	req, err := bindQuestion(c)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	req.applySubmitted(ctrl)
	accepted := ctrl.OnSubmit(c.Request.Context())

	if !wantsJSON(c) {
		c.Redirect(http.StatusSeeOther, "/?session="+id.String())
		return
	}
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"accepted": accepted, "state": ctrl.State()})
}

// GET /sessions/:id/state
func (h *SessionHandler) State(c *gin.Context) {
	_, ctrl, ok := h.session(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"state": ctrl.State()})
}

// GET /sessions/:id/events
//
// While a stream is open the session is never swept. A dropped stream keeps
// the session so the browser's automatic reconnect picks it up again.
func (h *SessionHandler) Events(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.NotFound("session_not_found", errSessionNotFound))
		return
	}
	ctrl, detach, ok := h.sessions.Attach(id)
	if !ok {
		response.RespondAPIError(c, apierr.NotFound("session_not_found", errSessionNotFound))
		return
	}
	defer detach()

	client := h.hub.SubscribeWithSnapshot(id.String(), func() (realtime.Message, bool) {
		return h.patchMessage(id, ctrl.State())
	})
	defer h.hub.CloseClient(client)

	h.log.Debug("SSE stream open", "session_id", id.String(), "client_id", client.ID)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

func (h *SessionHandler) lookupOrOpen(raw string) (uuid.UUID, *controller.Controller) {
	if raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			if ctrl, ok := h.sessions.Get(id); ok {
				return id, ctrl
			}
		}
	}
	id, ctrl := h.sessions.Create()
	ctrl.Subscribe(func(s controller.State) {
		if msg, ok := h.patchMessage(id, s); ok {
			h.hub.Broadcast(msg)
		}
	})
	return id, ctrl
}

func (h *SessionHandler) patchMessage(id uuid.UUID, s controller.State) (realtime.Message, bool) {
	patch, err := view.PatchFor(s)
	if err != nil {
		h.log.Warn("render patch failed", "session_id", id.String(), "error", err)
		return realtime.Message{}, false
	}
	return realtime.Message{Channel: id.String(), Event: realtime.EventState, Data: patch}, true
}

func (h *SessionHandler) session(c *gin.Context) (uuid.UUID, *controller.Controller, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err == nil {
		if ctrl, ok := h.sessions.Get(id); ok {
			return id, ctrl, true
		}
	}
	response.RespondAPIError(c, apierr.NotFound("session_not_found", errSessionNotFound))
	return uuid.Nil, nil, false
}

// bindQuestion accepts JSON or form bodies. An empty body yields an empty
// request.
func bindQuestion(c *gin.Context) (questionRequest, error) {
	var req questionRequest
	if err := c.ShouldBind(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return questionRequest{}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return questionRequest{}, apierr.New(http.StatusRequestEntityTooLarge, "request_too_large", errors.New("request body too large"))
		}
		return questionRequest{}, apierr.BadRequest("invalid_request", err)
	}
	return req, nil
}

func wantsJSON(c *gin.Context) bool {
	if c.ContentType() == binding.MIMEJSON {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), binding.MIMEJSON)
}
