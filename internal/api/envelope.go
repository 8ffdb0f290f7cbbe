package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// Envelope is the single shape every response is normalized into.
// Success is derived from ErrorCode.
type Envelope struct {
	ErrorCode    int             `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`

	// Kind records which body shape the envelope was built from.
	Kind PayloadKind `json:"-"`
}

func isSuccess(code int) bool {
	return code >= 200 && code <= 299
}

// HasData reports whether the envelope carries a data value other than null.
func (e *Envelope) HasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

// Decode unmarshals Data into v.
func (e *Envelope) Decode(v any) error {
	if !e.HasData() {
		return ErrNoData
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	return nil
}

// normalize builds the envelope for a received response. A non-2xx status
// with a body that is not JSON yields a *ResponseError instead.
func normalize(status int, body []byte) (*Envelope, error) {
	if status == http.StatusNoContent {
		return &Envelope{ErrorCode: status, Success: true, Kind: PayloadEmpty}, nil
	}

	ok := isSuccess(status)
	p := ParsePayload(body)

	switch p.Kind {
	case PayloadEmpty:
		if !ok {
			return &Envelope{
				ErrorCode:    status,
				ErrorMessage: fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)),
				Kind:         p.Kind,
			}, nil
		}
		return &Envelope{ErrorCode: status, Success: true, ErrorMessage: "Success", Kind: p.Kind}, nil

	case PayloadRawText:
		if !ok {
			return nil, &ResponseError{Status: status, Body: truncate(p.Text)}
		}
		text, _ := json.Marshal(p.Text)
		return &Envelope{ErrorCode: status, Success: true, Data: text, Kind: p.Kind}, nil
	}

	if !ok {
		msg, found := p.stringField("errorMessage")
		if !found {
			msg, found = p.stringField("message")
		}
		if !found {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return &Envelope{ErrorCode: status, ErrorMessage: msg, Kind: p.Kind}, nil
	}

	if p.Kind == PayloadEnveloped {
		code := p.errorCode(status)
		msg, _ := p.stringField("errorMessage")
		return &Envelope{
			ErrorCode:    code,
			ErrorMessage: msg,
			Success:      isSuccess(code),
			Data:         p.fields["data"],
			Kind:         p.Kind,
		}, nil
	}

	return &Envelope{ErrorCode: status, Success: true, Data: p.Raw, Kind: p.Kind}, nil
}

const maxErrorBodySize = 4 * 1024

func truncate(s string) string {
	if len(s) > maxErrorBodySize {
		return s[:maxErrorBodySize] + "... (truncated)"
	}
	return s
}
