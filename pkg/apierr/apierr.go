// Package apierr defines the error taxonomy returned by dynapi.
//
// Every failure surfaced by the client is an *Error with exactly one Kind.
// Callers branch with errors.Is against the sentinels:
//
//	if errors.Is(err, apierr.ErrParameter) { ... }
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindParameter
	KindNetwork
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindParameter:
		return "parameter"
	case KindNetwork:
		return "network"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by the library.
type Error struct {
	Kind   Kind
	Reason string

	// Parameter names the missing runtime value for KindParameter.
	Parameter string

	// StatusCode and Body are set when the server answered with a non-2xx status.
	StatusCode int
	Body       []byte

	Err error
}

// Sentinels for errors.Is.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrParameter     = &Error{Kind: KindParameter}
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrMapping       = &Error{Kind: KindMapping}
	ErrUnknown       = &Error{Kind: KindUnknown}
)

const maxBodyInMessage = 512

func (e *Error) Error() string {
	switch e.Kind {
	case KindConfiguration:
		return "Configuration Error: " + e.reason()
	case KindParameter:
		if e.Parameter != "" {
			return fmt.Sprintf("Parameter Error: %s (Parameter: %s)", e.reason(), e.Parameter)
		}
		return "Parameter Error: " + e.reason()
	case KindNetwork:
		msg := "Network Error: " + e.reason()
		if e.Reason != "" && e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		if len(e.Body) > 0 {
			body := e.Body
			if len(body) > maxBodyInMessage {
				body = body[:maxBodyInMessage]
			}
			msg += ": " + string(body)
		}
		return msg
	case KindMapping:
		if e.Err != nil && e.Reason != "" {
			return fmt.Sprintf("Mapping Error: %s (Original: %v)", e.Reason, e.Err)
		}
		return "Mapping Error: " + e.reason()
	default:
		return "Unknown Error: " + e.reason()
	}
}

func (e *Error) reason() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String() + " failure"
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" && t.Err == nil && t.Parameter == "" && t.StatusCode == 0 && t.Kind == e.Kind
}

func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Reason: fmt.Sprintf(format, args...)}
}

// ConfigurationWrap keeps err as the cause of a configuration failure.
func ConfigurationWrap(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Reason: fmt.Sprintf(format, args...) + ": " + err.Error(), Err: err}
}

func Parameter(name, reason string) *Error {
	return &Error{Kind: KindParameter, Reason: reason, Parameter: name}
}

// MissingParameter is the error for a $placeholder with no runtime value.
func MissingParameter(name string) *Error {
	return Parameter(name, "missing required parameter")
}

func Network(reason string, err error) *Error {
	return &Error{Kind: KindNetwork, Reason: reason, Err: err}
}

// Status reports a response outside the 2xx range.
func Status(code int, body []byte) *Error {
	return &Error{
		Kind:       KindNetwork,
		Reason:     fmt.Sprintf("unexpected status %d", code),
		StatusCode: code,
		Body:       body,
	}
}

func Mapping(reason string, err error) *Error {
	return &Error{Kind: KindMapping, Reason: reason, Err: err}
}

func Unknown(err error) *Error {
	return &Error{Kind: KindUnknown, Err: err}
}

// Classify maps any error onto the taxonomy. An *Error anywhere in the chain is
// returned as is; decoding failures become mapping errors; transport and
// cancellation failures become network errors.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Mapping("failed to decode response", err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return Network("", err)
	}

	return Unknown(err)
}

// KindOf returns the kind of err after classification.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return Classify(err).Kind
}
