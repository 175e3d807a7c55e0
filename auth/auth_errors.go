package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/pkg/errors"
)

var (
	InvalidCredentialsErr = errors.New("invalid credentials")
	RateLimitedErr        = errors.New("too many attempts")
	NetworkErr            = errors.New("network error")
	SessionExpiredErr     = errors.New("session expired")
	SignupValidationErr   = errors.New("signup rejected")
	LoginFailedErr        = errors.New("login failed")
	RoleDeniedErr         = errors.New("role not permitted")
)

// ResponseError is a failed identity operation. Kind is one of the sentinel errors above
// and is what errors.Is matches; Msg is the server's own message when it sent one.
type ResponseError struct {
	Kind       error
	StatusCode int    // 0 when no response was received
	Msg        string // Server message, passed through to forms
	Cause      error  // Underlying transport or decode error
}

func (e *ResponseError) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

func (e *ResponseError) Unwrap() error {
	return e.Kind
}

// UserMessage turns an identity error into text for the form that triggered it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var respErr *ResponseError
	hasResp := errors.As(err, &respErr)

	switch {
	case errors.Is(err, InvalidCredentialsErr):
		return "Invalid credentials. Please try again."
	case errors.Is(err, RateLimitedErr):
		return "Too many login attempts. Please try again later."
	case errors.Is(err, NetworkErr):
		return "Network error. Please try again."
	case errors.Is(err, SessionExpiredErr):
		return "Your session has expired. Please log in again."
	case errors.Is(err, RoleDeniedErr):
		return "Access denied. Please use an account with the required role."
	case errors.Is(err, SignupValidationErr):
		if hasResp && respErr.Msg != "" {
			return respErr.Msg
		}
		return "Registration failed. Please try again."
	case errors.Is(err, LoginFailedErr):
		if hasResp && respErr.Msg != "" {
			return respErr.Msg
		}
		return "Login failed. Please try again."
	}
	return "Something went wrong. Please try again."
}

type operation int

const (
	opLogin operation = iota
	opSignup
	opRefresh
)

// classify maps an apiclient failure onto the taxonomy for op.
func classify(op operation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) {
		kind := LoginFailedErr
		switch {
		case op == opRefresh:
			kind = SessionExpiredErr
		case statusErr.StatusCode == http.StatusTooManyRequests:
			kind = RateLimitedErr
		case op == opSignup:
			kind = SignupValidationErr
		case statusErr.StatusCode == http.StatusUnauthorized:
			kind = InvalidCredentialsErr
		}
		return &ResponseError{Kind: kind, StatusCode: statusErr.StatusCode, Msg: statusErr.Msg, Cause: err}
	}

	var transportErr *apiclient.TransportError
	if errors.As(err, &transportErr) {
		kind := NetworkErr
		if op == opRefresh {
			kind = SessionExpiredErr
		}
		return &ResponseError{Kind: kind, Cause: transportErr.Err}
	}

	if op == opRefresh {
		return &ResponseError{Kind: SessionExpiredErr, Cause: err}
	}
	return err
}
