package tokens

import (
	"strings"
	"sync"

	"github.com/killallgit/tokenstream/pkg/chat"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides methods for counting tokens in text
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

// NewTokenCounter creates a counter backed by the tiktoken encoding for modelName.
// The encoding file is fetched on first use and cached by tiktoken.
func NewTokenCounter(modelName string) (*TokenCounter, error) {
	encodingName := getEncodingForModel(modelName)

	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		// Fallback to cl100k_base for most modern models
		encoder, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	return &TokenCounter{
		encoder: encoder,
	}, nil
}

// NewEstimator creates a counter that never loads an encoding and only estimates
func NewEstimator() *TokenCounter {
	return &TokenCounter{}
}

// Exact reports whether counts come from a real encoding
func (tc *TokenCounter) Exact() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.encoder != nil
}

// CountTokens counts the number of tokens in the given text
func (tc *TokenCounter) CountTokens(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.count(text)
}

// CountMessages counts tokens for a request history, attachments' text included
func (tc *TokenCounter) CountMessages(messages []chat.Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += tc.countSingleMessage(msg)
	}

	// Every reply is primed with assistant
	totalTokens += 3

	return totalTokens
}

func (tc *TokenCounter) countSingleMessage(msg chat.Message) int {
	tokens := tc.count(msg.Role) + tc.count(msg.Content)
	for _, p := range msg.Parts {
		if p.IsText() {
			tokens += tc.count(p.InlineText())
		}
	}

	// <|start|>role<|end|> markers
	tokens += 4

	return tokens
}

func (tc *TokenCounter) count(text string) int {
	if tc.encoder == nil {
		return estimateTokens(text)
	}
	return len(tc.encoder.Encode(text, nil, nil))
}

// getEncodingForModel returns the appropriate encoding for a model
func getEncodingForModel(modelName string) string {
	modelLower := strings.ToLower(modelName)

	if strings.Contains(modelLower, "gpt-4o") || strings.Contains(modelLower, "o1") || strings.Contains(modelLower, "o3") {
		return "o200k_base"
	}

	if strings.Contains(modelLower, "gpt-4") || strings.Contains(modelLower, "gpt-3.5") {
		return "cl100k_base"
	}

	// Older GPT-3 models
	if strings.Contains(modelLower, "davinci") || strings.Contains(modelLower, "curie") {
		return "p50k_base"
	}

	// Local models have their own tokenizers; cl100k_base is a close enough stand-in
	return "cl100k_base"
}

// estimateTokens is the larger of the word count and a quarter of the byte count
func estimateTokens(text string) int {
	wordEstimate := len(strings.Fields(text))
	charEstimate := len(text) / 4

	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}
