package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

var encoders sync.Map // model -> *tiktoken.Tiktoken

func encoderFor(model string) *tiktoken.Tiktoken {
	if enc, ok := encoders.Load(model); ok {
		return enc.(*tiktoken.Tiktoken)
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil
		}
	}
	encoders.Store(model, enc)
	return enc
}

// CountTokens returns the number of tokens in text for model. When no
// encoding can be loaded it falls back to one token per four characters.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateRequestTokens estimates the prompt size of req, for adapters whose
// backend does not report usage.
func EstimateRequestTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += CountTokens(req.Model, msg.Content)
		for _, tc := range msg.ToolCalls {
			total += CountTokens(req.Model, tc.Name+string(tc.Arguments))
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
