package federation

import "fmt"

// ProtocolError is the error taxonomy shared by the codec, the pipelines
// and the remote-access services. Coarse reason codes are safe to expose
// to remote peers; Detail never leaves the process.
type ProtocolError struct {
	Reason string
	Detail string
}

func (e ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Is matches any ProtocolError with the same reason, so wrapped instances
// compare against the sentinels below with errors.Is.
func (e ProtocolError) Is(target error) bool {
	switch t := target.(type) {
	case ProtocolError:
		return t.Reason == e.Reason
	case *ProtocolError:
		return t.Reason == e.Reason
	}
	return false
}

func protoErr(reason, format string, args ...any) error {
	return ProtocolError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Terminal codec and authorization failures.
var (
	ErrInvalidToken     = ProtocolError{Reason: "invalid-token"}
	ErrUnknownKey       = ProtocolError{Reason: "unknown-key"}
	ErrSignatureInvalid = ProtocolError{Reason: "signature-invalid"}
	ErrSchemaInvalid    = ProtocolError{Reason: "schema-invalid"}
	ErrUntrustedIssuer  = ProtocolError{Reason: "untrusted-issuer"}
)

// Transient failures, retryable by the caller.
var (
	ErrProxyUnavailable = ProtocolError{Reason: "proxy-unavailable"}
	ErrAttachmentFetch  = ProtocolError{Reason: "attachment-fetch-failed"}
)

// InvalidTokenf wraps a parse failure with detail.
func InvalidTokenf(format string, args ...any) error {
	return protoErr(ErrInvalidToken.Reason, format, args...)
}

// UnknownKeyf wraps a key resolution failure with detail.
func UnknownKeyf(format string, args ...any) error {
	return protoErr(ErrUnknownKey.Reason, format, args...)
}

// SignatureInvalidf wraps a verification failure with detail.
func SignatureInvalidf(format string, args ...any) error {
	return protoErr(ErrSignatureInvalid.Reason, format, args...)
}

// SchemaInvalidf wraps a structural validation failure with detail.
func SchemaInvalidf(format string, args ...any) error {
	return protoErr(ErrSchemaInvalid.Reason, format, args...)
}

// UntrustedIssuerf wraps an authorization rejection with detail.
func UntrustedIssuerf(format string, args ...any) error {
	return protoErr(ErrUntrustedIssuer.Reason, format, args...)
}

// ProxyUnavailablef wraps a failed remote token exchange with detail.
func ProxyUnavailablef(format string, args ...any) error {
	return protoErr(ErrProxyUnavailable.Reason, format, args...)
}

// AttachmentFetchf wraps a failed variant replication with detail.
func AttachmentFetchf(format string, args ...any) error {
	return protoErr(ErrAttachmentFetch.Reason, format, args...)
}
