package router

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/amplihack/claude-gateway/internal/config"
)

// Provider identifies the upstream service family a request is sent to.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderAzure  Provider = "azure"
	ProviderGitHub Provider = "github"
)

// Shape identifies the backend wire format.
type Shape string

const (
	// ShapeChat is the chat/completions format with nested function tools.
	ShapeChat Shape = "chat"
	// ShapeResponses is the responses format with an input array and flat tools.
	ShapeResponses Shape = "responses"
)

// Decision is the routing outcome for one requested model name.
type Decision struct {
	Provider   Provider
	Shape      Shape
	Deployment string
}

// Provider prefixes recognized on inbound model names.
var providerPrefixes = []string{"anthropic/", "openai/", "azure/", "github/"}

// Deployments that only exist behind the responses endpoint shape.
var responsesOnlyDeployments = map[string]bool{
	"gpt-5-codex": true,
	"codex-mini":  true,
	"o1-pro":      true,
	"o3-pro":      true,
}

// Known OpenAI-hosted model names, matched exactly or by prefix.
var openAIModels = []string{
	"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
	"gpt-5", "gpt-5-mini", "gpt-5-codex",
	"o1", "o1-mini", "o1-pro", "o3", "o3-mini", "o3-pro", "o4-mini",
	"codex-mini",
}

// Known GitHub Models catalog names, matched exactly or by prefix.
var gitHubModels = []string{
	"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini",
	"o1", "o3-mini", "phi-4", "llama-3.3-70b-instruct",
	"mistral-large", "deepseek-r1",
}

// Router maps requested model names to a provider, endpoint shape, and
// deployment. The mapping is a pure function of (model, config); since the
// config snapshot is fixed at startup, decisions are memoized for the
// process lifetime. Cache entries are write-once, so a plain mutex suffices.
type Router struct {
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Decision
}

func New(cfg *config.Config, logger *slog.Logger) *Router {
	return &Router{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]Decision),
	}
}

// Route resolves a requested model name to its backend target.
func (r *Router) Route(model string) Decision {
	r.mu.Lock()
	if d, ok := r.cache[model]; ok {
		r.mu.Unlock()
		return d
	}
	r.mu.Unlock()

	d := r.resolve(model)

	r.mu.Lock()
	r.cache[model] = d
	r.mu.Unlock()

	return d
}

func (r *Router) resolve(model string) Decision {
	name := stripProviderPrefix(model)
	lower := strings.ToLower(name)

	var deployment string

	switch {
	case strings.Contains(lower, "haiku"):
		deployment = r.cfg.SmallModel
	case strings.Contains(lower, "sonnet"), strings.Contains(lower, "opus"):
		deployment = r.cfg.BigModel
	case strings.Contains(lower, "claude"):
		// Claude-named models outside the recognized families land on the
		// middle tier.
		deployment = r.cfg.MiddleModel
	case matchesCatalog(lower, openAIModels):
		deployment = name
	case r.cfg.UseGitHubModels && matchesCatalog(lower, gitHubModels):
		return Decision{
			Provider:   ProviderGitHub,
			Shape:      ShapeChat,
			Deployment: name,
		}
	default:
		// Non-fatal: unmatched names pass through unprefixed and the backend
		// gets to reject them.
		r.logger.Warn("Unrecognized model name, passing through", "model", model)
		deployment = name
	}

	return Decision{
		Provider:   r.provider(deployment),
		Shape:      r.shape(deployment),
		Deployment: deployment,
	}
}

func (r *Router) provider(deployment string) Provider {
	if r.cfg.UseGitHubModels && matchesCatalog(strings.ToLower(deployment), gitHubModels) &&
		r.cfg.PreferredProvider == string(ProviderGitHub) {
		return ProviderGitHub
	}

	switch r.cfg.PreferredProvider {
	case string(ProviderAzure):
		return ProviderAzure
	case string(ProviderGitHub):
		return ProviderGitHub
	default:
		return ProviderOpenAI
	}
}

// shape picks the endpoint shape: the explicit allow-list wins, otherwise the
// configured base-endpoint path decides.
func (r *Router) shape(deployment string) Shape {
	if responsesOnlyDeployments[strings.ToLower(deployment)] {
		return ShapeResponses
	}

	if strings.Contains(r.cfg.BaseURL, "/responses") {
		return ShapeResponses
	}

	return ShapeChat
}

func stripProviderPrefix(model string) string {
	for _, prefix := range providerPrefixes {
		if strings.HasPrefix(model, prefix) {
			return strings.TrimPrefix(model, prefix)
		}
	}

	return model
}

func matchesCatalog(lower string, catalog []string) bool {
	for _, m := range catalog {
		if lower == m || strings.HasPrefix(lower, m+"-") {
			return true
		}
	}

	return false
}

// ToolBlockCapable reports whether the requested unified model understands
// structured tool_use content blocks. Claude-family callers do; other target
// models only consume conversational text.
func ToolBlockCapable(model string) bool {
	lower := strings.ToLower(stripProviderPrefix(model))

	for _, marker := range []string{"claude", "haiku", "sonnet", "opus"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}
