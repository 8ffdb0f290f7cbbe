package api

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// PayloadKind names the shape a response body was recognised as.
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadEnveloped
	PayloadBareArray
	PayloadBareObject
	PayloadBareScalar
	PayloadRawText
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadEmpty:
		return "empty"
	case PayloadEnveloped:
		return "enveloped"
	case PayloadBareArray:
		return "bare_array"
	case PayloadBareObject:
		return "bare_object"
	case PayloadBareScalar:
		return "bare_scalar"
	case PayloadRawText:
		return "raw_text"
	default:
		return "unknown"
	}
}

// Payload is a classified response body. Raw holds the JSON for every
// parsed kind; Text holds the body for PayloadRawText.
type Payload struct {
	Kind PayloadKind
	Raw  json.RawMessage
	Text string

	fields map[string]json.RawMessage
}

// ParsePayload matches body against the known response shapes, falling back
// to PayloadRawText when it is not JSON.
func ParsePayload(body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Payload{Kind: PayloadEmpty}
	}

	if !json.Valid(trimmed) {
		return Payload{Kind: PayloadRawText, Text: string(body)}
	}

	switch trimmed[0] {
	case '[':
		return Payload{Kind: PayloadBareArray, Raw: json.RawMessage(trimmed)}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return Payload{Kind: PayloadRawText, Text: string(body)}
		}
		p := Payload{Kind: PayloadBareObject, Raw: json.RawMessage(trimmed), fields: fields}
		if _, ok := fields["errorCode"]; ok {
			p.Kind = PayloadEnveloped
		}
		return p
	default:
		return Payload{Kind: PayloadBareScalar, Raw: json.RawMessage(trimmed)}
	}
}

// errorCode returns the envelope's errorCode as a number. Numeric strings
// are accepted; null or anything else falls back to status.
func (p Payload) errorCode(status int) int {
	raw := p.fields["errorCode"]

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && string(bytes.TrimSpace(raw)) != "null" {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return status
}

// stringField returns the named top-level field of an object payload when
// it is a non-empty JSON string.
func (p Payload) stringField(name string) (string, bool) {
	raw, ok := p.fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
