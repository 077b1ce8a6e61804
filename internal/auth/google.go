package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

var (
	ErrMissingToken    = errors.New("id token is required")
	ErrUnverifiedEmail = errors.New("google account email is not verified")
)

// Identity is the caller as established by the identity provider. UserID is
// the stable key all conversation data is scoped by.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

type Verifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// tokenValidator matches idtoken.Validate.
type tokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

type GoogleVerifier struct {
	clientID string
	validate tokenValidator
}

func NewGoogleVerifier(clientID string) GoogleVerifier {
	return GoogleVerifier{clientID: strings.TrimSpace(clientID), validate: idtoken.Validate}
}

func (v GoogleVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if strings.TrimSpace(idToken) == "" {
		return Identity{}, ErrMissingToken
	}

	payload, err := v.validate(ctx, idToken, v.clientID)
	if err != nil {
		return Identity{}, fmt.Errorf("validate id token: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	if strings.TrimSpace(email) == "" {
		return Identity{}, errors.New("google token missing email claim")
	}

	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if !emailVerified {
		return Identity{}, ErrUnverifiedEmail
	}

	name, _ := payload.Claims["name"].(string)

	return Identity{
		UserID: payload.Subject,
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Name:   strings.TrimSpace(name),
	}, nil
}

// Anonymous is the identity used when authentication is disabled.
func Anonymous() Identity {
	return Identity{
		UserID: "anonymous-user",
		Email:  "anonymous@aksara.local",
		Name:   "Anonymous",
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
