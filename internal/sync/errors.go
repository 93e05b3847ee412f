package sync

import (
	"errors"
	"fmt"
)

// ErrUnauthorized indicates the request carried no verified principal.
var ErrUnauthorized = errors.New("no verified principal")

// ErrForbidden indicates the principal lacks the admin role.
var ErrForbidden = errors.New("admin role required")

// ErrNotConnected indicates no Google account has been authorized for the user.
var ErrNotConnected = errors.New("calendar not connected")

// OAuthExchangeError means the code-for-token exchange failed; the user must
// restart authorization.
type OAuthExchangeError struct {
	Err error
}

func (e *OAuthExchangeError) Error() string { return fmt.Sprintf("oauth code exchange failed: %v", e.Err) }
func (e *OAuthExchangeError) Unwrap() error { return e.Err }

// TokenExpiredError means the stored token is expired and the single refresh
// attempt failed. Reconciliation aborts before any provider call.
type TokenExpiredError struct {
	UserID string
	Err    error
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("token refresh failed for user %s: %v", e.UserID, e.Err)
}
func (e *TokenExpiredError) Unwrap() error { return e.Err }

// WebhookSetupError means push-channel registration failed. It is logged and
// swallowed; the authorization flow continues on polling only.
type WebhookSetupError struct {
	UserID string
	Err    error
}

func (e *WebhookSetupError) Error() string {
	return fmt.Sprintf("webhook registration failed for user %s: %v", e.UserID, e.Err)
}
func (e *WebhookSetupError) Unwrap() error { return e.Err }

// ValidationError marks a malformed inbound webhook notification.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
