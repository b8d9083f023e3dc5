package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/sourcelane/api/internal/platform/config"
)

var errVerifierNotInitialised = errors.New("firebase verifier not initialised")

// FirebaseVerifier wraps the Firebase Admin SDK for ID token verification and
// user lookups. Every SDK call runs under a bounded context so a slow Firebase
// backend cannot stall request handling.
type FirebaseVerifier struct {
	client *firebaseauth.Client
}

// NewFirebaseVerifier initialises the Admin SDK app and its auth client.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: authClient}, nil
}

// bounded guards against a nil verifier and caps the call duration.
func (v *FirebaseVerifier) bounded(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if v == nil || v.client == nil {
		return nil, nil, errVerifierNotInitialised
	}
	ctx, cancel := context.WithTimeout(ctx, defaultVerifyTimeout)
	return ctx, cancel, nil
}

// VerifyIDToken checks the ID token signature and claims via the Admin SDK.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	ctx, cancel, err := v.bounded(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads the Firebase user record backing the role fallback lookup.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	ctx, cancel, err := v.bounded(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return v.client.GetUser(ctx, uid)
}
