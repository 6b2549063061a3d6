// Package tokens estimates token usage for turns whose engine reported no
// counts. Estimates use tiktoken encodings where one resolves for the model
// and fall back to character-based approximation otherwise.
package tokens

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
)

// perMessageOverhead approximates the framing tokens each chat message adds.
const perMessageOverhead = 4

// Estimator counts tokens with a cached tokenizer codec per encoding.
type Estimator struct {
	// CharsPerToken is the approximation ratio used when no codec
	// resolves for the model.
	CharsPerToken float64

	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
		codecCache:    make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// CountText returns the token count of text under the model's encoding.
func (e *Estimator) CountText(model, text string) int {
	if text == "" {
		return 0
	}
	codec, err := e.getCodec(model)
	if err != nil {
		return int(float64(len(text)) / e.CharsPerToken)
	}
	count, err := codec.Count(text)
	if err != nil {
		return int(float64(len(text)) / e.CharsPerToken)
	}
	return count
}

// CountRequest estimates the prompt-side token count of a request: system
// parts, message content, and tool declarations.
func (e *Estimator) CountRequest(req *domain.CanonicalRequest) int {
	total := 0
	for _, part := range req.System {
		total += e.CountText(req.Model, part.Text)
	}
	for _, msg := range req.Messages {
		total += perMessageOverhead
		for _, part := range msg.Parts {
			total += e.countPart(req.Model, part)
		}
	}
	for _, tool := range req.Tools {
		total += e.CountText(req.Model, tool.Name)
		total += e.CountText(req.Model, tool.Description)
		if tool.InputSchema != nil {
			if raw, err := json.Marshal(tool.InputSchema); err == nil {
				total += e.CountText(req.Model, string(raw))
			}
		}
	}
	return total
}

func (e *Estimator) countPart(model string, part domain.ContentPart) int {
	switch part.Type {
	case domain.PartText:
		return e.CountText(model, part.Text)
	case domain.PartToolUse:
		n := e.CountText(model, part.Name)
		if part.Input != nil {
			if raw, err := json.Marshal(part.Input); err == nil {
				n += e.CountText(model, string(raw))
			}
		}
		return n
	case domain.PartToolResult:
		return e.CountText(model, part.Content)
	default:
		// Binary content is counted by its encoded size.
		if part.Source != nil {
			return int(float64(len(part.Source.Data)) / e.CharsPerToken)
		}
		return 0
	}
}

func (e *Estimator) getCodec(model string) (tokenizer.Codec, error) {
	encoding := modelEncoding(model)

	e.cacheMu.RLock()
	if cached, ok := e.codecCache[encoding]; ok {
		e.cacheMu.RUnlock()
		return cached, nil
	}
	e.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.codecCache[encoding] = codec
	e.cacheMu.Unlock()
	return codec, nil
}

// modelEncoding picks the token encoding for a model name. Agent model
// names do not map onto published encodings, so this only needs to be
// close enough for billing-free estimation.
func modelEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-3.5"), strings.HasPrefix(model, "gpt-4") && !strings.HasPrefix(model, "gpt-4o") && !strings.HasPrefix(model, "gpt-4.1"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}
