package prompt

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts prompt tokens. OpenAI-family models get a real tokenizer;
// everything else uses the bytes/4 approximation.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count estimates the token count of text for the target model.
func (e *Estimator) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

func (e *Estimator) encoderFor(model string) *tiktoken.Tiktoken {
	lower := strings.ToLower(model)
	if !strings.HasPrefix(lower, "gpt-") && !strings.HasPrefix(lower, "o1") &&
		!strings.HasPrefix(lower, "o3") && !strings.HasPrefix(lower, "chatgpt-") {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encoders[lower]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(lower)
	if err != nil {
		// Offline or unknown model id; cache the miss and approximate.
		if enc, err = tiktoken.GetEncoding("cl100k_base"); err != nil {
			e.encoders[lower] = nil
			return nil
		}
	}
	e.encoders[lower] = enc
	return enc
}
