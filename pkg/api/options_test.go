package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/localforge/localforge/pkg/templates"
)

func TestParseStopSingleString(t *testing.T) {
	assert.Equal(t, []string{"</s>"}, parseStop("</s>"))
}

func TestParseStopEmptyStringIgnored(t *testing.T) {
	assert.Nil(t, parseStop(""))
}

func TestParseStopArrayOfStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseStop([]interface{}{"a", "b"}))
}

func TestParseStopArraySkipsNonStrings(t *testing.T) {
	assert.Equal(t, []string{"a"}, parseStop([]interface{}{"a", 5, nil}))
}

func TestParseStopNilInput(t *testing.T) {
	assert.Nil(t, parseStop(nil))
}

func TestChatOptionsFromAppliesOverrides(t *testing.T) {
	maxTokens := 64
	temp := 0.2
	topP := 0.5
	seed := int64(42)
	req := ChatRequest{
		MaxTokens:   &maxTokens,
		Temperature: &temp,
		TopP:        &topP,
		Seed:        &seed,
		Stream:      true,
		Stop:        "STOP",
	}
	tmpl := templates.New(templates.ChatML)

	opts := chatOptionsFrom(req, tmpl)

	assert.Equal(t, 64, opts.MaxTokens)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, 0.5, opts.TopP)
	assert.EqualValues(t, 42, opts.Seed)
	assert.True(t, opts.Stream)
	assert.Contains(t, opts.StopSequences, "STOP")
}

func TestChatOptionsFromMergesTemplateStopSequences(t *testing.T) {
	req := ChatRequest{}
	tmpl := templates.New(templates.ChatML)

	opts := chatOptionsFrom(req, tmpl)

	assert.Equal(t, tmpl.StopSequences(), opts.StopSequences)
}

func TestChatOptionsFromDefaultsWhenUnset(t *testing.T) {
	tmpl := templates.New(templates.ChatML)
	opts := chatOptionsFrom(ChatRequest{}, tmpl)
	assert.Equal(t, 256, opts.MaxTokens)
	assert.False(t, opts.Stream)
}

func TestNativeOptionsFromAppliesOverrides(t *testing.T) {
	maxTokens := 10
	topK := 5
	req := GenerateRequest{MaxTokens: &maxTokens, TopK: &topK, Stream: true}

	opts := nativeOptionsFrom(req)

	assert.Equal(t, 10, opts.MaxTokens)
	assert.Equal(t, 5, opts.TopK)
	assert.True(t, opts.Stream)
}
