package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pkoukk/tiktoken-go"

	"github.com/amplihack/claude-gateway/internal/providers"
)

// CountTokensHandler serves /v1/messages/count_tokens. Counts are computed
// locally with the cl100k_base encoding over the flattened request text; no
// backend call is made.
type CountTokensHandler struct {
	logger *slog.Logger
}

func NewCountTokensHandler(logger *slog.Logger) *CountTokensHandler {
	return &CountTokensHandler{logger: logger}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req providers.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to load token encoding", "error", err)
		http.Error(w, "token encoding unavailable", http.StatusInternalServerError)

		return
	}

	count := 0

	if !req.System.IsZero() {
		count += len(encoder.Encode(providers.FlattenBlocks(req.System.Blocks), nil, nil))
	}

	for _, msg := range req.Messages {
		count += len(encoder.Encode(providers.FlattenBlocks(msg.Content.Sanitized()), nil, nil))
	}

	for _, tool := range req.Tools {
		count += len(encoder.Encode(tool.Name, nil, nil))
		count += len(encoder.Encode(tool.Description, nil, nil))
		count += len(encoder.Encode(string(tool.InputSchema), nil, nil))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"input_tokens": count})
}
