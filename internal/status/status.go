package status

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration  = errors.New("payment: gateway credential not configured")
	ErrAuth           = errors.New("payment: gateway rejected credential")
	ErrPermission     = errors.New("payment: gateway denied permission")
	ErrGateway        = errors.New("payment: gateway error")
	ErrTimeout        = errors.New("payment: gateway timeout")
	ErrNetwork        = errors.New("payment: network error")
	ErrInvalidRequest = errors.New("payment: invalid request")
	ErrNotFound       = errors.New("payment: payment not found")
)

// Kind names one class of gateway failure.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindAuth          Kind = "auth"
	KindPermission    Kind = "permission"
	KindGateway       Kind = "gateway"
	KindTimeout       Kind = "timeout"
	KindNetwork       Kind = "network"
)

var kindErrors = map[Kind]error{
	KindConfiguration: ErrConfiguration,
	KindAuth:          ErrAuth,
	KindPermission:    ErrPermission,
	KindGateway:       ErrGateway,
	KindTimeout:       ErrTimeout,
	KindNetwork:       ErrNetwork,
}

// GatewayError is returned by every outbound gateway call that failed.
// errors.Is matches it against the sentinel of its Kind.
type GatewayError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s error", e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

// NewGatewayError builds a GatewayError of the given kind.
func NewGatewayError(kind Kind, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, StatusCode: statusCode, Message: message, Err: err}
}

// KindOf returns the failure kind carried by err, or "" when err is not a gateway failure.
func KindOf(err error) Kind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	for kind, sentinel := range kindErrors {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// Remediation groups failures by who has to act on them.
type Remediation string

const (
	RemediationOperator Remediation = "operator"
	RemediationRetry    Remediation = "retry"
	RemediationWait     Remediation = "wait"
	RemediationNone     Remediation = ""
)

// RemediationFor tells the checkout flow which message to show for err.
func RemediationFor(err error) Remediation {
	switch KindOf(err) {
	case KindConfiguration, KindAuth, KindPermission:
		return RemediationOperator
	case KindNetwork, KindTimeout:
		return RemediationRetry
	case KindGateway:
		return RemediationWait
	default:
		return RemediationNone
	}
}
