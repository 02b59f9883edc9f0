package oauth

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRefreshFailed = errors.New("oauth token refresh failed")

// AuthError reports a failed refresh-token exchange. Status and Body are set
// when the token endpoint answered with an error response.
type AuthError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s token refresh failed %d: %s", e.Provider, e.Status, strings.TrimSpace(e.Body))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s token refresh failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s token refresh failed", e.Provider)
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}
