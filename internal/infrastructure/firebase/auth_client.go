package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"jobchat/pkg/errors"
)

// FirebaseAuthClient resolves Firebase ID tokens to user ids.
type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.Unauthenticated("Missing session token")
	}

	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}
	return result.UID, nil
}
