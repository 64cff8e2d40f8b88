package search

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindConnection Kind = iota
	KindAuthentication
	KindQueryExecution
	KindNotConnected
	KindTimeout
	KindConfig
	KindUnsupported
	KindInvalidResponse
	KindIO
	KindSerialization
)

var kindNames = map[Kind]string{
	KindConnection:      "connection failed",
	KindAuthentication:  "authentication failed",
	KindQueryExecution:  "query execution failed",
	KindNotConnected:    "not connected",
	KindTimeout:         "timeout",
	KindConfig:          "configuration error",
	KindUnsupported:     "unsupported",
	KindInvalidResponse: "invalid response",
	KindIO:              "io error",
	KindSerialization:   "serialization error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the classified failure returned by providers, embedders and the runner.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Connection(err error, format string, args ...interface{}) error {
	return newErr(KindConnection, err, format, args...)
}

func Authentication(format string, args ...interface{}) error {
	return newErr(KindAuthentication, nil, format, args...)
}

// QueryExecution classifies a backend call failure. Deadline errors become
// Timeout errors carrying the configured budget.
func QueryExecution(err error, timeoutMs uint64, format string, args ...interface{}) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newErr(KindTimeout, err, "after %dms", timeoutMs)
	}
	return newErr(KindQueryExecution, err, format, args...)
}

func NotConnected(provider string) error {
	return newErr(KindNotConnected, nil, "%s", provider)
}

func Config(format string, args ...interface{}) error {
	return newErr(KindConfig, nil, format, args...)
}

func Unsupported(what string) error {
	return newErr(KindUnsupported, nil, "%s", what)
}

func InvalidResponse(err error, format string, args ...interface{}) error {
	return newErr(KindInvalidResponse, err, format, args...)
}

func IO(err error, format string, args ...interface{}) error {
	return newErr(KindIO, err, format, args...)
}

func Serialization(err error, format string, args ...interface{}) error {
	return newErr(KindSerialization, err, format, args...)
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
