package chat

import "errors"

var (
	// ErrBusy rejects a submission while a request is pending or a
	// recording is active.
	ErrBusy = errors.New("a request or recording is already in progress")

	// ErrNotRecording rejects StopRecording when no recording is active.
	ErrNotRecording = errors.New("not recording")

	// ErrCaptureDenied covers refused microphone access and missing devices.
	ErrCaptureDenied = errors.New("microphone unavailable")

	// ErrTransport covers network failures and non-2xx or unparseable answers.
	ErrTransport = errors.New("assistant request failed")
)
