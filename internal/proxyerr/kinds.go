// Package proxyerr collects the typed error kinds named in the proxy's
// error handling design (spec §7): each kind carries its own fatal/
// non-fatal and log-severity treatment, decided once here rather than
// scattered across callers.
package proxyerr

import (
	"errors"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for logging severity and HTTP status mapping.
type Kind int

const (
	KindConfiguration Kind = iota
	KindBind
	KindHandshakeTimeout
	KindNoSni
	KindClientCertRejected
	KindNoCertificate
	KindBadRequest
	KindNotFound
	KindMisdirectedRequest
	KindBadGateway
	KindGatewayTimeout
	KindUpstream
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "Configuration"
	case KindBind:
		return "Bind"
	case KindHandshakeTimeout:
		return "HandshakeTimeout"
	case KindNoSni:
		return "NoSni"
	case KindClientCertRejected:
		return "ClientCertRejected"
	case KindNoCertificate:
		return "NoCertificate"
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	case KindMisdirectedRequest:
		return "MisdirectedRequest"
	case KindBadGateway:
		return "BadGateway"
	case KindGatewayTimeout:
		return "GatewayTimeout"
	case KindUpstream:
		return "Upstream"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is a Kind-tagged error, wrapped with github.com/pkg/errors so
// existing %+v stack-trace formatting and errors.Cause still work.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// New wraps err under kind, attaching a stack trace the first time a plain
// error crosses into an Error (mirrors pkg/errors.Wrap usage throughout the
// rest of this tree).
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: pkgerrors.WithStack(err)}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: pkgerrors.Errorf(format, args...)}
}

// HTTPStatus maps the error kinds that have a direct HTTP response (spec
// §7); kinds with no response mapping (Configuration, Bind, HandshakeTimeout,
// NoSni, ClientCertRejected, NoCertificate, Upstream, Cancelled) return 0.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindMisdirectedRequest:
		return http.StatusMisdirectedRequest
	case KindBadGateway:
		return http.StatusBadGateway
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return 0
	}
}

// Fatal reports whether an error of this kind should terminate the owning
// listener/process rather than being handled per-connection or per-request.
func (k Kind) Fatal() bool {
	return k == KindConfiguration || k == KindBind
}

// LogLevel names the logrus level this kind should be logged at, per spec §7
// ("Log severity is bounded so a misbehaving peer cannot raise log volume to
// error-level").
func (k Kind) LogLevel() string {
	switch k {
	case KindConfiguration, KindBind, KindInternal:
		return "error"
	case KindBadGateway, KindGatewayTimeout, KindUpstream:
		return "warn"
	case KindBadRequest, KindNotFound, KindMisdirectedRequest:
		return "info"
	case KindCancelled:
		return "debug"
	default: // HandshakeTimeout, NoSni, ClientCertRejected, NoCertificate
		return "debug"
	}
}

// As reports whether err (or one of its wrapped causes) is a *Error of kind,
// writing the matching *Error into target if non-nil.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
