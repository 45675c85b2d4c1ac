// SPDX-License-Identifier: MIT

// Package mediaerr carries the error taxonomy surfaced over the wire. Every
// failure a handler can report maps to exactly one Kind; Details carries a
// bounded tail of subprocess stderr for diagnostics.
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind is the wire-level error code.
type Kind string

const (
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindNoAudioTrack      Kind = "NO_AUDIO_TRACK"
	KindNoVideoStream     Kind = "NO_VIDEO_STREAM"
	KindServerBusy        Kind = "SERVER_BUSY"
	KindTimeout           Kind = "TIMEOUT"
	KindFFprobeError      Kind = "FFPROBE_ERROR"
	KindFFmpegError       Kind = "FFMPEG_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidState      Kind = "INVALID_STATE"
	KindUnsupportedConfig Kind = "UNSUPPORTED_CONFIG"
	KindUploadFailed      Kind = "UPLOAD_FAILED"
	KindAudioTooLarge     Kind = "AUDIO_TOO_LARGE"
	KindProgressStalled   Kind = "PROGRESS_STALLED"
)

// maxDetails bounds the stderr tail attached to an error.
const maxDetails = 2000

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithDetails attaches a clipped diagnostics string.
func (e *Error) WithDetails(details string) *Error {
	e.Details = Clip(details, maxDetails)
	return e
}

// Clip truncates s to at most n bytes, marking the cut.
func Clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

// KindOf returns the classified kind of err, or "" if it has none.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// DetailsOf returns attached diagnostics, if any.
func DetailsOf(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Details
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
