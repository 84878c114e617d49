package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/amplihack/claude-gateway/internal/config"
	"github.com/amplihack/claude-gateway/internal/conversation"
	"github.com/amplihack/claude-gateway/internal/metrics"
	"github.com/amplihack/claude-gateway/internal/providers"
	"github.com/amplihack/claude-gateway/internal/resilience"
	"github.com/amplihack/claude-gateway/internal/router"
	"github.com/amplihack/claude-gateway/internal/upstream"
)

// gitHubModelsBaseURL is the fixed inference endpoint for GitHub Models.
const gitHubModelsBaseURL = "https://models.github.ai/inference"

// maxScanTokenSize bounds one SSE line; argument deltas can run long.
const maxScanTokenSize = 1024 * 1024

// MessagesHandler serves /v1/messages: it translates the unified request into
// the routed backend's wire format, executes the call under the retry policy,
// and translates the result back, streaming or not.
type MessagesHandler struct {
	config   *config.Manager
	router   *router.Router
	client   *upstream.Client
	fallback *resilience.FallbackManager
	metrics  *metrics.Registry
	logger   *slog.Logger
}

func NewMessagesHandler(
	config *config.Manager,
	rt *router.Router,
	client *upstream.Client,
	fallback *resilience.FallbackManager,
	registry *metrics.Registry,
	logger *slog.Logger,
) *MessagesHandler {
	return &MessagesHandler{
		config:   config,
		router:   rt,
		client:   client,
		fallback: fallback,
		metrics:  registry,
		logger:   logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		return
	}

	var req providers.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}

	if req.Model == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	if len(req.Messages) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	state := conversation.Analyze(req.Messages)
	decision := h.router.Route(req.Model)

	h.logger.Info("Handling messages request",
		"model", req.Model,
		"provider", decision.Provider,
		"shape", decision.Shape,
		"deployment", decision.Deployment,
		"stream", req.Stream,
		"phase", state.Phase,
	)

	if h.fallback.Active() {
		if !cfg.ToolFallback {
			h.metrics.Requests.WithLabelValues(string(decision.Provider), "error").Inc()
			h.writeError(w, http.StatusServiceUnavailable, "api_error",
				"backend unavailable and degraded responses are disabled")

			return
		}

		h.metrics.FallbackActivations.Inc()
		h.metrics.Requests.WithLabelValues(string(decision.Provider), "fallback").Inc()
		h.serveFallback(w, &req)

		return
	}

	opts := providers.TranslateOptions{
		Deployment:     decision.Deployment,
		Shape:          decision.Shape,
		MinTokens:      cfg.MinTokensLimit,
		MaxTokens:      cfg.MaxTokensLimit,
		Stream:         req.Stream,
		StrictTools:    cfg.StrictTools,
		SingleToolCall: state.EnforceSingleToolCall(),
		Logger:         h.logger,
	}

	backendBody, err := buildBackendBody(&req, opts)
	if err != nil {
		var tve *providers.ToolValidationError
		if errors.As(err, &tve) {
			h.writeError(w, http.StatusBadRequest, "invalid_request_error", tve.Error())
			return
		}

		h.writeError(w, http.StatusInternalServerError, "api_error", "request translation failed")

		return
	}

	target := h.target(cfg, decision)
	executor := h.executor(cfg, state)

	ctx := r.Context()

	// Tool-phase calls run under the tighter tool timeout.
	if state.InToolPhase() && cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
		defer cancel()
	}

	var backendResp *upstream.Response

	err = executor.Do(ctx, func(ctx context.Context) error {
		resp, callErr := h.call(ctx, target, backendBody)
		if callErr != nil {
			return callErr
		}

		backendResp = resp

		return nil
	})
	if err != nil {
		h.metrics.Requests.WithLabelValues(string(decision.Provider), "error").Inc()
		h.writeClassifiedError(w, err)

		return
	}

	defer backendResp.Body.Close()

	h.metrics.Requests.WithLabelValues(string(decision.Provider), "success").Inc()

	if req.Stream {
		h.streamResponse(w, backendResp, &req, decision.Shape)
	} else {
		h.completeResponse(w, backendResp, &req, decision.Shape)
	}
}

// call performs one backend attempt and classifies any failure. A non-2xx
// status consumes the body; a success hands the live body to the caller.
func (h *MessagesHandler) call(ctx context.Context, target upstream.Target, body []byte) (*upstream.Response, error) {
	resp, err := h.client.Do(ctx, target, body)
	if err != nil {
		return nil, &resilience.ClassifiedError{Classification: resilience.ClassifyTransport(err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()

		return nil, &resilience.ClassifiedError{
			Classification: resilience.Classify(resp.StatusCode, errBody, resp.Header),
		}
	}

	return resp, nil
}

func (h *MessagesHandler) target(cfg *config.Config, decision router.Decision) upstream.Target {
	target := upstream.Target{
		Provider:   decision.Provider,
		Shape:      decision.Shape,
		BaseURL:    cfg.BaseURL,
		APIVersion: cfg.APIVersion,
		APIKey:     cfg.OpenAIAPIKey,
	}

	if decision.Provider == router.ProviderGitHub {
		target.BaseURL = gitHubModelsBaseURL
		target.APIKey = cfg.GitHubToken
	}

	return target
}

// executor builds the retry executor for this request. Tool-phase requests
// get the configured tool retry budget instead of the default.
func (h *MessagesHandler) executor(cfg *config.Config, state conversation.State) *resilience.Executor {
	policy := resilience.DefaultRetryPolicy()

	if state.InToolPhase() {
		policy.MaxRetries = cfg.ToolRetryAttempts
	}

	retries := h.metrics.Retries

	return &resilience.Executor{
		Policy:   policy,
		Fallback: h.fallback,
		Logger:   h.logger,
		OnRetry:  func() { retries.Inc() },
	}
}

func buildBackendBody(req *providers.MessagesRequest, opts providers.TranslateOptions) ([]byte, error) {
	if opts.Shape == router.ShapeResponses {
		backend, err := providers.BuildResponsesRequest(req, opts)
		if err != nil {
			return nil, err
		}

		return json.Marshal(backend)
	}

	backend, err := providers.BuildChatRequest(req, opts)
	if err != nil {
		return nil, err
	}

	return json.Marshal(backend)
}

func (h *MessagesHandler) completeResponse(w http.ResponseWriter, resp *upstream.Response, req *providers.MessagesRequest, shape router.Shape) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "api_error", "failed to read backend response")
		return
	}

	unified, err := translateBackendResponse(respBody, req.Model, shape)
	if err != nil {
		h.logger.Error("Response translation failed", "shape", shape, "error", err)
		h.writeError(w, http.StatusBadGateway, "api_error", resilience.Redact(err.Error()))

		return
	}

	h.logger.Info("Completed response",
		"model", req.Model,
		"input_tokens", unified.Usage.InputTokens,
		"output_tokens", unified.Usage.OutputTokens,
	)

	h.writeJSON(w, http.StatusOK, unified)
}

func translateBackendResponse(respBody []byte, requestedModel string, shape router.Shape) (*providers.MessagesResponse, error) {
	if shape == router.ShapeResponses {
		var backend providers.ResponsesResponse
		if err := json.Unmarshal(respBody, &backend); err != nil {
			return nil, fmt.Errorf("unmarshal backend response: %w", err)
		}

		return providers.TranslateResponsesResponse(&backend, requestedModel)
	}

	var backend providers.ChatResponse
	if err := json.Unmarshal(respBody, &backend); err != nil {
		return nil, fmt.Errorf("unmarshal backend response: %w", err)
	}

	return providers.TranslateChatResponse(&backend, requestedModel)
}

// streamResponse reassembles the backend delta stream into unified SSE events.
// A chunk that fails translation is logged and skipped; the stream never
// aborts mid-response.
func (h *MessagesHandler) streamResponse(w http.ResponseWriter, resp *upstream.Response, req *providers.MessagesRequest, shape router.Shape) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	translator := h.newTranslator(req, shape)

	h.write(w, translator.Begin())

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if !strings.HasPrefix(line, "data: ") {
			// Event-name lines and other SSE framing carry no payload here.
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		events, err := translator.Next([]byte(data))
		if err != nil {
			h.logger.Error("Stream translation error, skipping chunk", "error", err)
			continue
		}

		h.write(w, events)

		if translator.Done() {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Error("Stream scanning error", "error", err)
	}

	h.write(w, translator.Finish())
	h.write(w, []byte("data: [DONE]\n\n"))
}

// streamTranslator is the per-shape chunk state machine.
type streamTranslator interface {
	Begin() []byte
	Next(data []byte) ([]byte, error)
	Finish() []byte
	Done() bool
}

func (h *MessagesHandler) newTranslator(req *providers.MessagesRequest, shape router.Shape) streamTranslator {
	if shape == router.ShapeResponses {
		return providers.NewResponsesStreamTranslator(req.Model, req.Tools, h.logger)
	}

	return providers.NewStreamTranslator(req.Model, req.Tools, h.logger)
}

// serveFallback answers a request without touching the backend while the
// fallback window is armed.
func (h *MessagesHandler) serveFallback(w http.ResponseWriter, req *providers.MessagesRequest) {
	snapshot := h.fallback.Snapshot()

	h.logger.Warn("Serving degraded fallback response",
		"model", req.Model,
		"cooldown_remaining_seconds", snapshot.CooldownRemaining,
	)

	text := fmt.Sprintf(
		"The upstream model backend is temporarily unavailable and the gateway is in fallback mode. "+
			"Normal service resumes automatically in about %d seconds. Please retry this request shortly.",
		int(snapshot.CooldownRemaining)+1,
	)

	stopReason := providers.StopReasonEndTurn
	unified := &providers.MessagesResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       providers.RoleAssistant,
		Model:      req.Model,
		Content:    []providers.ContentBlock{providers.TextBlock(text)},
		StopReason: &stopReason,
	}

	if !req.Stream {
		h.writeJSON(w, http.StatusOK, unified)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	translator := providers.NewStreamTranslator(req.Model, nil, h.logger)

	h.write(w, translator.Begin())

	idx := 0
	h.write(w, providers.FormatSSEEvent(providers.EventContentBlockDelta, providers.StreamEvent{
		Type:  providers.EventContentBlockDelta,
		Index: &idx,
		Delta: &providers.EventDelta{Type: providers.DeltaTypeText, Text: text},
	}))

	h.write(w, translator.Finish())
	h.write(w, []byte("data: [DONE]\n\n"))
}

func (h *MessagesHandler) write(w http.ResponseWriter, data []byte) {
	if len(data) == 0 {
		return
	}

	w.Write(data)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *MessagesHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeClassifiedError surfaces a failed backend call as a unified error body
// with credentials already redacted by the classifier.
func (h *MessagesHandler) writeClassifiedError(w http.ResponseWriter, err error) {
	var ce *resilience.ClassifiedError
	if !errors.As(err, &ce) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.writeError(w, http.StatusGatewayTimeout, "api_error", "backend call timed out")
			return
		}

		h.writeError(w, http.StatusInternalServerError, "api_error", resilience.Redact(err.Error()))

		return
	}

	status := ce.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}

	h.writeError(w, status, errorType(ce.Kind), ce.Message)
}

func errorType(kind resilience.Kind) string {
	switch kind {
	case resilience.KindAuthentication:
		return "authentication_error"
	case resilience.KindRateLimit:
		return "rate_limit_error"
	case resilience.KindClientError, resilience.KindConfiguration:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func (h *MessagesHandler) writeError(w http.ResponseWriter, status int, errType, message string) {
	h.logger.Error("Request failed", "status", status, "type", errType, "message", message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}
