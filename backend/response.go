package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field holds an optional JSON value. A field that is absent, null, or of
// the wrong JSON type decodes as not Valid rather than failing the response.
type Field[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Valid: true}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		*f = Field[T]{}
		return nil
	}
	f.Value, f.Valid = v, true
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Get returns the value and whether it was present.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Valid
}

// Response is the envelope returned by both assistant endpoints.
type Response struct {
	Success       Field[bool]          `json:"success"`
	Message       Field[string]        `json:"message"`
	Transcription Field[Transcription] `json:"transcription"`
	Result        Field[Result]        `json:"result"`
}

type Transcription struct {
	OriginalText Field[string] `json:"originalText"`
}

// Result carries the intent the backend resolved and its nested outcome.
type Result struct {
	Intent Field[string]  `json:"intent"`
	Result Field[Outcome] `json:"result"`
}

type Outcome struct {
	Message     Field[string]   `json:"message"`
	Suggestions Field[[]string] `json:"suggestions"`
	User        Field[User]     `json:"user"`
	Route       Field[string]   `json:"route"`
}

type User struct {
	Email Field[string] `json:"email"`
}

// Rejected reports an explicit `success: false`.
func (r *Response) Rejected() bool {
	return r != nil && r.Success.Valid && !r.Success.Value
}

// Outcome returns the nested result.result object when present.
func (r *Response) Outcome() (Outcome, bool) {
	if r == nil || !r.Result.Valid {
		return Outcome{}, false
	}
	return r.Result.Value.Result.Get()
}

// Heard returns the backend's transcription of the input, if any.
func (r *Response) Heard() string {
	if r == nil || !r.Transcription.Valid {
		return ""
	}
	return r.Transcription.Value.OriginalText.Value
}

// Decode parses a response body. The body must be a JSON object; individual
// fields are optional.
func Decode(data []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrDecode
	}
	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &resp, nil
}
