package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoData            = errors.New("api: response carries no data")
	ErrUnexpectedPayload = errors.New("api: unexpected payload shape")
)

// TransportError means no HTTP response was received: DNS failure, refused
// connection, timeout, or an open circuit breaker.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError is a non-2xx response whose body was not JSON.
type ResponseError struct {
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
}

// ServerError is an envelope with success=false surfaced by the typed
// endpoint helpers.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d", e.Code)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a server rejection with status 404.
func IsNotFound(err error) bool {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Status == http.StatusNotFound
	}
	return false
}

// ErrorKind is the failure category shown to the user.
type ErrorKind string

const (
	KindNone    ErrorKind = ""
	KindNetwork ErrorKind = "network"
	KindServer  ErrorKind = "server"
)

// Classify maps the result of a call to an ErrorKind. Anything that happened
// after a response arrived is a server failure.
func Classify(err error, env *Envelope) ErrorKind {
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return KindNetwork
		}
		return KindServer
	}
	if env != nil && !env.Success {
		return KindServer
	}
	return KindNone
}
