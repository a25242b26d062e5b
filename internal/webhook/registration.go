// ABOUTME: Validation for incoming webhook registration requests
// ABOUTME: Enforces the event allow-list and absolute http(s) callback URLs

package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
)

// ErrInvalidRegistration is the sentinel for registration validation failures.
var ErrInvalidRegistration = errors.New("invalid registration")

// RegistrationRequest is the body of POST /webhook/register.
type RegistrationRequest struct {
	Event       string `json:"event"`
	CallbackURL string `json:"callback_url"`
}

// Validate checks the registration against the event allow-list and URL
// requirements.
func (r *RegistrationRequest) Validate() error {
	if r.Event == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidRegistration)
	}
	if !slices.Contains(AllowedEvents, r.Event) {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidRegistration, r.Event)
	}
	if r.CallbackURL == "" {
		return fmt.Errorf("%w: callback_url is required", ErrInvalidRegistration)
	}

	u, err := url.Parse(r.CallbackURL)
	if err != nil {
		return fmt.Errorf("%w: callback_url is not a valid URL", ErrInvalidRegistration)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: callback_url must use http or https", ErrInvalidRegistration)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: callback_url must be absolute", ErrInvalidRegistration)
	}
	return nil
}
