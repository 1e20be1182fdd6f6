package firebase

import (
	"context"
	"strings"

	"jobchat/pkg/errors"
)

const devTokenPrefix = "dev:"

// DevIdentityProvider accepts "dev:<uid>" tokens. It backs the in-memory
// store driver in development, where no Firebase project is configured.
type DevIdentityProvider struct{}

func NewDevIdentityProvider() *DevIdentityProvider {
	return &DevIdentityProvider{}
}

func (DevIdentityProvider) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.Unauthenticated("Missing session token")
	}
	if !strings.HasPrefix(token, devTokenPrefix) {
		return "", errors.Unauthorized("Invalid or expired token", nil)
	}
	uid := strings.TrimPrefix(token, devTokenPrefix)
	if uid == "" {
		return "", errors.Unauthorized("Invalid or expired token", nil)
	}
	return uid, nil
}

// DevToken returns the token DevIdentityProvider maps to uid.
func DevToken(uid string) string {
	return devTokenPrefix + uid
}
