package errdefs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindEnvironment
	KindDetection
	KindConfig
	KindNotFound
	KindAuthCredential
	KindAuthSecret
	KindAuthPermission
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindEnvironment:
		return "environment"
	case KindDetection:
		return "detection"
	case KindConfig:
		return "config"
	case KindNotFound:
		return "not_found"
	case KindAuthCredential:
		return "auth_credential"
	case KindAuthSecret:
		return "auth_secret"
	case KindAuthPermission:
		return "auth_permission"
	case KindProvider:
		return "provider"
	}
	return "unknown"
}

// Error is a classified, terminal failure of one reconcile run. Hint carries
// the actionable message shown next to the error.
type Error struct {
	Kind Kind
	Op   string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error, hint string) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Hint: hint}
}

func Newf(kind Kind, op, hint, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...), Hint: hint}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HintOf returns the hint of the outermost classified error that has one.
func HintOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return e.Hint
		}
		err = e.Err
	}
	return ""
}

// Hints for provider authentication failures, shared by every provider adapter.
const (
	HintCredentialID = "the access key / credential ID was rejected, check the configured credential ID"
	HintSecret       = "the request signature did not match, check the configured access key secret"
	HintPermission   = "the credential lacks permission to manage DNS records, grant DNS write access to it"
)

func AuthCredential(op string, err error) *Error {
	return New(KindAuthCredential, op, err, HintCredentialID)
}

func AuthSecret(op string, err error) *Error {
	return New(KindAuthSecret, op, err, HintSecret)
}

func AuthPermission(op string, err error) *Error {
	return New(KindAuthPermission, op, err, HintPermission)
}

func Provider(op string, err error) *Error {
	return New(KindProvider, op, err, "")
}
