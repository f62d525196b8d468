package config

import "log/slog"

const redacted = "[REDACTED]"

// Secret holds a credential. Its string, log and YAML forms are redacted;
// Reveal is the only way to read the value.
type Secret string

func (s Secret) Reveal() string { return string(s) }

func (s Secret) Empty() bool { return s == "" }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
