package firebase

import (
	"context"
	"fmt"

	fbapp "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

const adminClaim = "admin"

// CredentialsOption prefers inline service-account JSON over a file path.
// It returns nil when neither is set so the SDK falls back to ADC.
func CredentialsOption(serviceAccountJSON, serviceAccountPath string) option.ClientOption {
	if serviceAccountJSON != "" {
		return option.WithCredentialsJSON([]byte(serviceAccountJSON))
	}
	if serviceAccountPath != "" {
		return option.WithCredentialsFile(serviceAccountPath)
	}
	return nil
}

// NewApp initializes the Firebase app for projectID.
func NewApp(ctx context.Context, projectID string, opts ...option.ClientOption) (*fbapp.App, error) {
	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase: %w", err)
	}
	return app, nil
}

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseAuthClient turns Firebase ID tokens into chat actors.
type FirebaseAuthClient struct {
	client tokenVerifier
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

// VerifyToken checks idToken and returns its actor. The "admin" custom claim
// (bool, or role == "admin") grants moderation rights.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, idToken string) (entity.Actor, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return entity.Actor{}, errors.Unauthorized("Invalid or expired token", err)
	}

	return entity.Actor{UserID: token.UID, Admin: isAdmin(token.Claims)}, nil
}

func isAdmin(claims map[string]interface{}) bool {
	if v, ok := claims[adminClaim].(bool); ok && v {
		return true
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}
