package render

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zcox/messagedb-agent-sub000/pkg/engine"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
	"github.com/zcox/messagedb-agent-sub000/pkg/projections"
	"github.com/zcox/messagedb-agent-sub000/pkg/tools"
)

// RenderRequest is the body of POST /render and POST /render-stream.
type RenderRequest struct {
	ThreadID     string `json:"thread_id" binding:"required,max=256"`
	UserMessage  string `json:"user_message" binding:"omitempty,max=10000"`
	PreviousHTML string `json:"previous_html" binding:"omitempty,max=100000"`
}

// RenderResponse carries the sanitized HTML and the display preferences that
// were in effect when it was rendered. It doubles as the payload of the
// terminal "result" SSE event.
type RenderResponse struct {
	HTML         string `json:"html"`
	DisplayPrefs string `json:"display_prefs"`
}

// Service exposes the agent loop and the HTML renderer over HTTP. Agent
// events live on <category>:<version>-<thread_id>; display preferences on
// their own per-thread stream.
type Service struct {
	store       engine.Store
	agentModel  llm.Client
	renderModel llm.Client
	opts        engine.Options
	category    string
	version     string
	log         *slog.Logger
}

// NewService wires a store and the two model clients into a Service. The
// engine options are forced to auto-approve tools: there is no approval
// channel on an HTTP request.
func NewService(store engine.Store, agentModel, renderModel llm.Client, opts engine.Options) *Service {
	opts.AutoApproveTools = true
	return &Service{
		store:       store,
		agentModel:  agentModel,
		renderModel: renderModel,
		opts:        opts,
		category:    "agent",
		version:     "v0",
		log:         slog.Default(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Service) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", s.Index)
	r.GET("/health", s.Health)
	r.POST("/render", s.Render)
	r.POST("/render-stream", s.RenderStream)
	return r
}

// Index hands out thread ids. Without a thread_id query parameter it
// redirects so the client's URL carries a fresh one; with it, it returns a
// pointer to the render endpoints.
func (s *Service) Index(c *gin.Context) {
	threadID := c.Query("thread_id")
	if threadID == "" {
		c.Redirect(http.StatusTemporaryRedirect, "/?thread_id="+uuid.NewString())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id": threadID,
		"endpoints": gin.H{
			"render":        "/render",
			"render_stream": "/render-stream",
		},
	})
}

// Health reports liveness.
func (s *Service) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Render optionally appends a user message, runs the agent loop to
// completion, then renders the full event stream as sanitized HTML.
func (s *Service) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	log := s.log.With("thread_id", req.ThreadID)
	log.Info("Processing render request",
		"has_user_message", req.UserMessage != "",
		"has_previous_html", req.PreviousHTML != "")

	agentStream, prefsStream, err := s.streams(req.ThreadID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.UserMessage != "" {
		eng, err := s.agentEngine(req.ThreadID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": renderFailed(err)})
			return
		}
		if err := eng.AddUserMessage(ctx, agentStream, req.UserMessage); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": renderFailed(err)})
			return
		}
		if _, err := eng.ProcessThread(ctx, req.ThreadID, agentStream); err != nil {
			log.Error("Agent processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": renderFailed(err)})
			return
		}
		log.Info("Agent processing complete")
	}

	evts, err := s.store.ReadAllStream(ctx, agentStream)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": renderFailed(err)})
		return
	}
	prefsEvts, err := s.store.ReadAllStream(ctx, prefsStream)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": renderFailed(err)})
		return
	}
	prefs := projections.DisplayPrefs(prefsEvts)

	html, err := RenderHTML(ctx, s.renderModel, evts, prefs, req.PreviousHTML)
	if err != nil {
		log.Error("Render request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": renderFailed(err)})
		return
	}

	log.Info("Render complete", "event_count", len(evts), "html_length", len(html))
	c.JSON(http.StatusOK, RenderResponse{HTML: html, DisplayPrefs: prefs})
}

// RenderStream is the SSE variant of Render. Event order is fixed:
// agent_start (only when a user message is present), agent_delta*,
// agent_complete, html_start, html_chunk*, result. Any failure emits a
// single error event and ends the stream.
func (s *Service) RenderStream(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	log := s.log.With("thread_id", req.ThreadID)

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	fail := func(err error) {
		log.Error("Render stream failed", "error", err)
		writeSSE(c, "error", gin.H{"error": err.Error()})
	}

	agentStream, prefsStream, err := s.streams(req.ThreadID)
	if err != nil {
		fail(err)
		return
	}

	if req.UserMessage != "" {
		eng, err := s.agentEngine(req.ThreadID)
		if err != nil {
			fail(err)
			return
		}
		if err := eng.AddUserMessage(ctx, agentStream, req.UserMessage); err != nil {
			fail(err)
			return
		}

		writeSSE(c, "agent_start", gin.H{})
		ch, err := eng.ProcessThreadStreaming(ctx, req.ThreadID, agentStream)
		if err != nil {
			fail(err)
			return
		}
		for p := range ch {
			switch p := p.(type) {
			case engine.Failure:
				for range ch {
				}
				fail(p.Err)
				return
			case engine.StateResult:
				// Terminal state is not part of the wire protocol.
			default:
				writeSSE(c, "agent_delta", progressDelta(p))
			}
		}
		writeSSE(c, "agent_complete", gin.H{})
		log.Info("Agent streaming phase complete")
	}

	evts, err := s.store.ReadAllStream(ctx, agentStream)
	if err != nil {
		fail(err)
		return
	}
	prefsEvts, err := s.store.ReadAllStream(ctx, prefsStream)
	if err != nil {
		fail(err)
		return
	}
	prefs := projections.DisplayPrefs(prefsEvts)

	writeSSE(c, "html_start", gin.H{})

	var buf strings.Builder
	chunks, errc := RenderHTMLStream(ctx, s.renderModel, evts, prefs, req.PreviousHTML)
	for chunk := range chunks {
		buf.WriteString(chunk)
		writeSSE(c, "html_chunk", gin.H{"chunk": chunk})
	}
	if err := <-errc; err != nil {
		fail(err)
		return
	}

	// Chunks went out raw; the final document is extracted and sanitized in
	// one pass so fence markers split across chunk boundaries are handled.
	html := SanitizeHTML(ExtractHTML(buf.String()))
	writeSSE(c, "result", RenderResponse{HTML: html, DisplayPrefs: prefs})
	log.Info("Streaming render complete", "event_count", len(evts), "html_length", len(html))
}

// streams resolves the two per-thread stream names.
func (s *Service) streams(threadID string) (agentStream, prefsStream string, err error) {
	agentStream, err = messagedb.BuildStreamName(s.category, s.version, threadID)
	if err != nil {
		return "", "", err
	}
	return agentStream, tools.DisplayPrefsStream(threadID), nil
}

// agentEngine builds a per-thread engine: a fresh registry with the builtin
// and display-preference tools bound to this thread's prefs stream.
func (s *Service) agentEngine(threadID string) (*engine.Engine, error) {
	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if err := tools.RegisterDisplayTools(reg, s.store, threadID); err != nil {
		return nil, err
	}
	return engine.New(s.store, s.agentModel, reg, s.opts), nil
}

// progressDelta maps an engine progress item to its wire form.
func progressDelta(p engine.Progress) gin.H {
	switch p := p.(type) {
	case engine.AgentText:
		return gin.H{"type": "llm_text", "text": p.Text}
	case engine.AgentToolCall:
		return gin.H{"type": "llm_tool_call", "id": p.ID, "name": p.Name, "index": p.Index}
	case engine.AgentToolInput:
		return gin.H{"type": "llm_tool_input", "index": p.Index, "input": p.Input}
	case engine.AgentDone:
		return gin.H{"type": "llm_done", "token_usage": p.Usage.Map()}
	case engine.ToolStarted:
		return gin.H{"type": "tool_started", "name": p.Name}
	case engine.ToolCompleted:
		return gin.H{"type": "tool_completed", "name": p.Name, "result": p.Result}
	case engine.ToolFailed:
		return gin.H{"type": "tool_failed", "name": p.Name, "error": p.Error}
	default:
		return gin.H{"type": "unknown"}
	}
}

func writeSSE(c *gin.Context, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload)
	c.Writer.Flush()
}

func renderFailed(err error) string {
	return "rendering failed: " + err.Error()
}
