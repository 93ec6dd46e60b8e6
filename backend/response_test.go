package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFullShape(t *testing.T) {
	resp, err := Decode([]byte(`{
		"success": true,
		"message": "top",
		"transcription": {"originalText": "hello"},
		"result": {
			"intent": "navigate",
			"result": {
				"message": "nested",
				"suggestions": ["a", "b"],
				"user": {"email": "a@b.com"},
				"route": "/settings"
			}
		}
	}`))
	require.NoError(t, err)

	assert.False(t, resp.Rejected())
	assert.Equal(t, "hello", resp.Heard())
	assert.Equal(t, Some("navigate"), resp.Result.Value.Intent)

	outcome, ok := resp.Outcome()
	require.True(t, ok)
	assert.Equal(t, Some("nested"), outcome.Message)
	assert.Equal(t, Some([]string{"a", "b"}), outcome.Suggestions)
	assert.Equal(t, Some("a@b.com"), outcome.User.Value.Email)
	assert.Equal(t, Some("/settings"), outcome.Route)
}

func TestDecodeWrongTypesAreAbsent(t *testing.T) {
	resp, err := Decode([]byte(`{
		"success": "yes",
		"message": 42,
		"transcription": "hello",
		"result": {"result": {"message": "ok", "suggestions": "not-a-list"}}
	}`))
	require.NoError(t, err)

	assert.False(t, resp.Success.Valid)
	assert.False(t, resp.Message.Valid)
	assert.False(t, resp.Transcription.Valid)
	assert.False(t, resp.Rejected())

	outcome, ok := resp.Outcome()
	require.True(t, ok)
	assert.Equal(t, Some("ok"), outcome.Message)
	assert.False(t, outcome.Suggestions.Valid)
}

func TestDecodeNulls(t *testing.T) {
	resp, err := Decode([]byte(`{"message": null, "result": null}`))
	require.NoError(t, err)
	assert.False(t, resp.Message.Valid)
	_, ok := resp.Outcome()
	assert.False(t, ok)
}

func TestDecodeRejected(t *testing.T) {
	resp, err := Decode([]byte(`{"success": false, "message": "no speech found"}`))
	require.NoError(t, err)
	assert.True(t, resp.Rejected())
}

func TestDecodeRequiresObject(t *testing.T) {
	for _, body := range []string{"", "   ", "[]", `"text"`, "{", "null"} {
		_, err := Decode([]byte(body))
		assert.ErrorIs(t, err, ErrDecode, "body %q", body)
	}
}
