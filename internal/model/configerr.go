package model

import (
	"errors"
	"log/slog"
)

const (
	CodeOutOfRange  = "out_of_range"
	CodeInvalid     = "invalid"
	CodeInvalidEnum = "invalid_enum"
	CodeMissing     = "missing_required"
	CodeDuplicate   = "duplicate"
)

// ConfigError is a single validation problem of a configuration or manifest
// file.
type ConfigError struct {
	Path    string // engine.pool_cap, roms[3].path
	Code    string // out_of_range | invalid | invalid_enum | missing_required | duplicate
	Message string
}

func (e ConfigError) Error() string {
	return e.Path + ": " + e.Message
}

func (e ConfigError) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", e.Code),
		slog.String("path", e.Path),
		slog.String("message", e.Message),
	)
}

// ConfigErrDetails extracts all ConfigError values from err, typically the
// result of Validate or LoadManifest.
func ConfigErrDetails(err error) []ConfigError {
	var out []ConfigError
	for _, e := range unjoin(err) {
		var ce ConfigError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	return out
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, unjoin(e)...)
		}
		return out
	}
	return []error{err}
}
