package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferFamily(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     Family
	}{
		{"qwen model", "/models/Qwen2.5-7B-Instruct.gguf", ChatML},
		{"chatglm model", "chatglm3-6b.safetensors", ChatML},
		{"llama model", "Meta-Llama-3-8B-Instruct.Q4_K_M.gguf", Llama3},
		{"mixtral falls back", "mixtral-8x7b.gguf", OpenChat},
		{"case insensitive", "QWEN-7B.gguf", ChatML},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferFamily(tc.filename))
		})
	}
}

func TestParseFamilyRoundTrip(t *testing.T) {
	for _, f := range []Family{ChatML, Llama3, OpenChat} {
		parsed, ok := ParseFamily(f.String())
		require.True(t, ok)
		assert.Equal(t, f, parsed)
	}
}

func TestParseFamilyUnknown(t *testing.T) {
	f, ok := ParseFamily("vicuna")
	assert.False(t, ok)
	assert.Equal(t, OpenChat, f)
}

func TestRenderChatMLBalancesTurns(t *testing.T) {
	tmpl := New(ChatML)
	out := tmpl.Render([]Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "hi"},
	})
	assert.Contains(t, out, "<|im_start|>system\nYou are helpful.<|im_end|>\n")
	assert.Contains(t, out, "<|im_start|>user\nhi<|im_end|>\n")
	assert.Contains(t, out, "<|im_start|>assistant\n")
}

func TestRenderDropsUnknownRoles(t *testing.T) {
	tmpl := New(Llama3)
	out := tmpl.Render([]Message{
		{Role: "tool", Content: "should be dropped"},
		{Role: "user", Content: "hello"},
	})
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, "hello")
}

func TestRenderDeterministic(t *testing.T) {
	tmpl := New(OpenChat)
	messages := []Message{{Role: "user", Content: "same prompt"}}
	first := tmpl.Render(messages)
	second := tmpl.Render(messages)
	assert.Equal(t, first, second)
}

func TestStopSequencesPerFamily(t *testing.T) {
	assert.Equal(t, []string{"<|im_end|>"}, New(ChatML).StopSequences())
	assert.Equal(t, []string{"<|eot_id|>", "<|end_of_text|>"}, New(Llama3).StopSequences())
	assert.Equal(t, []string{"<|end_of_turn|>"}, New(OpenChat).StopSequences())
}
