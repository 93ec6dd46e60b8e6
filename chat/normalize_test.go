package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosley/voxchat/backend"
)

func decode(t *testing.T, body string) *backend.Response {
	t.Helper()
	resp, err := backend.Decode([]byte(body))
	require.NoError(t, err)
	return resp
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		text        string
		suggestions []string
	}{
		{
			name: "login intent uses welcome template",
			body: `{"success":true,"result":{"intent":"login","result":{"user":{"email":"a@b.com"}}}}`,
			text: fmt.Sprintf(WelcomeTemplate, "a@b.com"),
		},
		{
			name: "login without email keeps nested message",
			body: `{"result":{"intent":"login","result":{"message":"Please sign in"}}}`,
			text: "Please sign in",
		},
		{
			name: "navigate intent uses route",
			body: `{"result":{"intent":"navigate","result":{"message":"ignored","route":"/orders"}}}`,
			text: fmt.Sprintf(NavigateTemplate, "/orders"),
		},
		{
			name:        "suggestions intent prefixes marker",
			body:        `{"result":{"intent":"suggestions","result":{"message":"Try one","suggestions":["a","b"]}}}`,
			text:        SuggestionsMarker + "\nTry one",
			suggestions: []string{"a", "b"},
		},
		{
			name: "suggestions intent with empty list leaves text",
			body: `{"result":{"intent":"suggestions","result":{"message":"Nothing","suggestions":[]}}}`,
			text: "Nothing",
		},
		{
			name:        "suggestions captured without intent",
			body:        `{"result":{"result":{"message":"Pick","suggestions":["x"]}}}`,
			text:        "Pick",
			suggestions: []string{"x"},
		},
		{
			name: "non-array suggestions are ignored",
			body: `{"result":{"result":{"message":"Pick","suggestions":{"0":"x"}}}}`,
			text: "Pick",
		},
		{
			name: "top level message when no nested result",
			body: `{"success":true,"message":"plain"}`,
			text: "plain",
		},
		{
			name: "nested result without message falls back",
			body: `{"message":"top","result":{"result":{}}}`,
			text: FallbackText,
		},
		{
			name: "empty object falls back",
			body: `{}`,
			text: FallbackText,
		},
		{
			name: "heard is quoted before base text",
			body: `{"success":true,"transcription":{"originalText":"hello"},"result":{"result":{"message":"Hi there"}}}`,
			text: fmt.Sprintf(HeardTemplate, "hello") + "Hi there",
		},
		{
			name: "heard already contained is not repeated",
			body: `{"transcription":{"originalText":"weather"},"message":"The weather is sunny"}`,
			text: "The weather is sunny",
		},
		{
			name: "heard alone quotes the fallback",
			body: `{"transcription":{"originalText":"hmm"}}`,
			text: fmt.Sprintf(HeardTemplate, "hmm") + FallbackText,
		},
		{
			name: "blank heard is ignored",
			body: `{"transcription":{"originalText":"  "},"message":"ok"}`,
			text: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := Normalize(decode(t, tt.body))
			assert.Equal(t, tt.text, reply.Text)
			if tt.suggestions == nil {
				assert.Empty(t, reply.Suggestions)
			} else {
				assert.Equal(t, tt.suggestions, reply.Suggestions)
			}
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	body := `{"success":true,"transcription":{"originalText":"go"},"result":{"intent":"suggestions","result":{"message":"m","suggestions":["a","b","c"]}}}`
	first := Normalize(decode(t, body))
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Normalize(decode(t, body)))
	}
}

func TestNormalizeNil(t *testing.T) {
	assert.Equal(t, Reply{Text: FallbackText}, Normalize(nil))
}
