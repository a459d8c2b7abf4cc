package model

// ClaimServiceAccount is the recognized claim that bypasses the ACL gate.
const ClaimServiceAccount = "is_service_account"

// UserContext is the authenticated caller. It arrives pre-authenticated from
// an upstream gateway (in the request body or the X-User-Context header) and
// is immutable for the lifetime of a request.
type UserContext struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email,omitempty"`
	Groups []string       `json:"groups"`
	Claims map[string]any `json:"claims,omitempty"`
}

// IsServiceAccount reports whether the context carries the service-account
// claim with the boolean value true. Any other value — absent, non-boolean,
// or false — does not qualify.
func (u UserContext) IsServiceAccount() bool {
	v, ok := u.Claims[ClaimServiceAccount]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
