package domain

import (
	"strings"
	"time"
)

// Token is the unit of streamed model output. Once built by the Token
// Builder, every field is assigned exactly once and never mutated again.
type Token struct {
	RequestID  string
	ModelID    string
	Text       string
	Ts         time.Time
	AttemptSeq int
	TokenIndex int
}

// WalNormalisedText returns Text with embedded newlines collapsed to a
// single space, matching the WAL line's one-way serialisation rule.
func (t Token) WalNormalisedText() string {
	if !strings.ContainsAny(t.Text, "\r\n") {
		return t.Text
	}
	replacer := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
	return replacer.Replace(t.Text)
}

// TsRFC3339Milli renders Ts as UTC ISO-8601 with millisecond precision,
// e.g. 2025-06-24T14:01:05.123Z.
func (t Token) TsRFC3339Milli() string {
	return t.Ts.UTC().Format("2006-01-02T15:04:05.000Z")
}
