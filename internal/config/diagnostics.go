package config

import (
	json "github.com/goccy/go-json"
)

// DiagnosticsReport is the JSON-encodable view of a Config's accumulated
// build errors plus the current config version, for the (out of scope)
// administration layer. The Notifier's digest email is plain text built
// by package notify and does not use it.
type DiagnosticsReport struct {
	ConfigVersion uint64       `json:"config_version"`
	BuildErrors   []BuildError `json:"build_errors"`
}

// MarshalDiagnostics renders a DiagnosticsReport as JSON using goccy/go-json,
// which the rest of the admin surface standardizes on for speed.
func MarshalDiagnostics(version uint64, errs []BuildError) ([]byte, error) {
	report := DiagnosticsReport{ConfigVersion: version, BuildErrors: errs}
	return json.Marshal(report)
}
