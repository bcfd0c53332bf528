package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"aidispatch/internal/budget"
	"aidispatch/internal/catalog"
	"aidispatch/internal/conversation"
	"aidispatch/internal/core"
	"aidispatch/internal/credential"
	"aidispatch/internal/util"

	"github.com/gin-gonic/gin"
)

// askRequest is the body of /v1/ask and /v1/queue. Smart asks walk the
// quality ranking restricted to Capabilities instead of the fallback order.
type askRequest struct {
	Prompt       string            `json:"prompt"`
	Smart        bool              `json:"smart,omitempty"`
	Capabilities []core.Capability `json:"capabilities,omitempty"`
	core.Options
}

type batchRequest struct {
	Prompts []string `json:"prompts" binding:"required"`
	Limit   int      `json:"limit,omitempty"`
	core.Options
}

type batchItem struct {
	Prompt   string       `json:"prompt"`
	Result   *core.Result `json:"result,omitempty"`
	Error    string       `json:"error,omitempty"`
	Attempts core.Trace   `json:"attempts,omitempty"`
}

type addKeyRequest struct {
	Key   string `json:"key" binding:"required"`
	Label string `json:"label,omitempty"`
}

type summarizeRequest struct {
	conversation.SummarizeOptions
	Force bool `json:"force,omitempty"`
}

type budgetRequest struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Prompt   string         `json:"prompt"`
	System   string         `json:"system,omitempty"`
	Context  string         `json:"context,omitempty"`
	History  []core.Message `json:"history,omitempty"`
}

func bindAsk(c *gin.Context) (askRequest, bool) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Messages) == 0 {
		respondError(c, http.StatusBadRequest, "prompt or messages required")
		return req, false
	}
	return req, true
}

func (s *Server) ask(c *gin.Context) {
	req, ok := bindAsk(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var (
		res *core.Result
		err error
	)
	if req.Smart {
		res, err = s.app.Dispatcher.AskSmart(ctx, req.Prompt, req.Options, req.Capabilities...)
	} else {
		res, err = s.app.Dispatcher.Ask(ctx, req.Prompt, req.Options)
	}
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) enqueue(c *gin.Context) {
	req, ok := bindAsk(c)
	if !ok {
		return
	}

	res, err := s.app.Queue.Enqueue(c.Request.Context(), req.Prompt, req.Options)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Prompts) == 0 {
		respondError(c, http.StatusBadRequest, "prompts required")
		return
	}

	results := s.app.Dispatcher.Parallel(c.Request.Context(), req.Prompts, req.Options, req.Limit)
	items := make([]batchItem, len(results))
	failed := 0
	for i, r := range results {
		items[i] = batchItem{Prompt: r.Prompt, Result: r.Result}
		if r.Err == nil {
			continue
		}
		failed++
		items[i].Error = r.Err.Error()
		var exhausted *core.ExhaustedError
		if errors.As(r.Err, &exhausted) {
			items[i].Attempts = exhausted.Attempts
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": items, "failed": failed})
}

func (s *Server) respondDispatchError(c *gin.Context, err error) {
	var exhausted *core.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "attempts": exhausted.Attempts})
	case errors.Is(err, context.Canceled):
		c.JSON(core.StatusClientClosedRequest, gin.H{"error": "request canceled"})
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, core.ErrUnknownProvider), errors.Is(err, core.ErrUnknownModel):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrQueueClosed), errors.Is(err, core.ErrQueueCleared):
		respondError(c, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Dispatch failed: %v", err)
		respondError(c, http.StatusInternalServerError, "internal server error")
	}
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func (s *Server) listModels(c *gin.Context) {
	caps := parseCapabilities(c.Query("caps"))

	if best := c.Query("best"); best != "" {
		n, err := strconv.Atoi(best)
		if err != nil || n <= 0 || n > core.MaxQueryBest {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("best must be between 1 and %d", core.MaxQueryBest))
			return
		}
		order, err := catalog.ParseOrder(c.Query("order"))
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order, "models": s.app.Dispatcher.RankedModels(order, n, caps...)})
		return
	}

	providers := make([]gin.H, 0, s.app.Catalog.Len())
	for _, name := range s.app.Catalog.Providers() {
		p, _ := s.app.Catalog.Provider(name)
		models := make([]core.Model, 0, len(p.Models))
		for _, m := range p.Models {
			if hasCapabilities(m, caps) {
				models = append(models, m)
			}
		}
		providers = append(providers, gin.H{
			"name":         p.Name,
			"label":        p.Label,
			"defaultModel": s.app.Catalog.DefaultModel(name),
			"hasKeys":      s.app.Credentials.Has(name),
			"models":       models,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

func parseCapabilities(raw string) []core.Capability {
	var caps []core.Capability
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			caps = append(caps, core.Capability(part))
		}
	}
	return caps
}

func hasCapabilities(m core.Model, caps []core.Capability) bool {
	for _, want := range caps {
		if !m.HasCapability(want) {
			return false
		}
	}
	return true
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"windows": s.app.Limiter.Status(),
		"models":  s.app.Usage.LimitStats(),
	})
}

func (s *Server) resetLimitTracking(c *gin.Context) {
	n := s.app.Usage.ResetLimitTracking()
	s.saveState(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) listKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": s.app.Credentials.ListAll()})
}

func (s *Server) knownProvider(c *gin.Context) (string, bool) {
	name := c.Param("provider")
	if s.app.Catalog.Priority(name) < 0 {
		respondError(c, http.StatusNotFound, fmt.Sprintf("unknown provider %s", name))
		return "", false
	}
	return name, true
}

func (s *Server) addKey(c *gin.Context) {
	name, ok := s.knownProvider(c)
	if !ok {
		return
	}

	var req addKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(strings.TrimSpace(req.Key)) < core.MinCredentialLength {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("key must be at least %d characters", core.MinCredentialLength))
		return
	}

	added, err := s.app.Credentials.Add(name, req.Key, req.Label)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidCredential) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to add key for %s: %v", name, err)
		respondError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	s.saveState(c.Request.Context())

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"added": added, "keys": s.app.Credentials.List(name)})
}

func (s *Server) rotateKey(c *gin.Context) {
	name, ok := s.knownProvider(c)
	if !ok {
		return
	}

	if !s.app.Credentials.Rotate(name) {
		respondError(c, http.StatusConflict, fmt.Sprintf("%s has fewer than two keys", name))
		return
	}
	s.app.Limiter.Reset(name)
	s.saveState(c.Request.Context())

	active, _ := s.app.Credentials.Active(name)
	c.JSON(http.StatusOK, gin.H{"active": util.PreviewSecret(active), "keys": s.app.Credentials.List(name)})
}

func (s *Server) removeKey(c *gin.Context) {
	name, ok := s.knownProvider(c)
	if !ok {
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "index must be a number")
		return
	}
	if err := s.app.Credentials.Remove(name, index); err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}
	s.saveState(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"keys": s.app.Credentials.List(name)})
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Cache.Stats())
}

func (s *Server) clearCache(c *gin.Context) {
	s.app.Cache.Clear()
	s.saveState(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) showConversation(c *gin.Context) {
	log := s.app.Conversation
	c.JSON(http.StatusOK, gin.H{"entries": log.Entries(), "tokens": log.EstimateTokens()})
}

func (s *Server) clearConversation(c *gin.Context) {
	n := s.app.Conversation.Clear()
	s.saveState(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) summarizeConversation(c *gin.Context) {
	var req summarizeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	summary, err := s.app.SummarizeConversation(c.Request.Context(), req.SummarizeOptions, req.Force)
	if err != nil {
		s.respondDispatchError(c, err)
		return
	}
	if summary.Summarized {
		s.saveState(c.Request.Context())
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) shapeBudget(c *gin.Context) {
	var req budgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" {
		req.Provider = s.app.Config.Dispatch.DefaultProvider
	}
	if req.Model == "" {
		req.Model = s.app.Catalog.DefaultModel(req.Provider)
	}

	shaped := s.app.Optimizer.Optimize(budget.Input{
		Prompt:   req.Prompt,
		System:   req.System,
		Context:  req.Context,
		History:  req.History,
		Model:    req.Model,
		Provider: req.Provider,
	})
	c.JSON(http.StatusOK, gin.H{
		"provider": req.Provider,
		"model":    req.Model,
		"free":     s.app.Optimizer.IsFree(req.Model, req.Provider),
		"shaped":   shaped,
	})
}

// saveState persists after an admin change; failures only log.
func (s *Server) saveState(ctx context.Context) {
	if err := s.app.Save(ctx); err != nil {
		s.logger.Warn("Failed to persist state: %v", err)
	}
}

func setStreamingHeaders(c *gin.Context) {
	c.Header(core.HeaderContentType, core.ContentTypeEventStream)
	c.Header(core.HeaderCacheControl, core.CacheControlNoCache)
	c.Header(core.HeaderConnection, core.ConnectionKeepAlive)
}

func writeSSEData(w io.Writer, data []byte) (int, error) {
	return fmt.Fprintf(w, "%s%s\n\n", core.StreamChunkPrefix, string(data))
}

// streamEvents relays dispatch telemetry as server-sent events until the
// client disconnects or the server shuts down.
func (s *Server) streamEvents(c *gin.Context) {
	events, cancel := s.app.Events.Subscribe(0)
	defer cancel()

	setStreamingHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCtx.Done():
			_, _ = fmt.Fprintf(c.Writer, "%s%s\n\n", core.StreamChunkPrefix, core.StreamChunkDoneMessage)
			c.Writer.Flush()
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := util.MarshalJSON(evt)
			if err != nil {
				s.logger.Warn("Failed to encode event %s: %v", evt.Type, err)
				continue
			}
			if _, err := writeSSEData(c.Writer, data); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
