package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
)

// FirebaseAuthenticator verifies and manages accounts with Firebase Authentication.
type FirebaseAuthenticator struct {
	client *auth.Client
}

var _ Authenticator = (*FirebaseAuthenticator)(nil)

// NewFirebaseAuthenticator initializes a Firebase app for projectID. An empty credentialsFile
// falls back to application default credentials.
func NewFirebaseAuthenticator(ctx context.Context, projectID, credentialsFile string, opts ...option.ClientOption) (*FirebaseAuthenticator, error) {
	if projectID == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpSignIn, fmt.Errorf("firebase project id is required"))
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpSignIn, component, syncErrors.KindInternal, "init firebase app", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpSignIn, component, syncErrors.KindInternal, "init firebase auth", err)
	}
	return &FirebaseAuthenticator{client: client}, nil
}

// NewFirebaseAuthenticatorWithClient wraps an existing auth client.
func NewFirebaseAuthenticatorWithClient(client *auth.Client) *FirebaseAuthenticator {
	return &FirebaseAuthenticator{client: client}
}

func (f *FirebaseAuthenticator) VerifyIDToken(ctx context.Context, idToken string) (Account, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Account{}, mapAuthError(syncErrors.OpSignIn, err)
	}
	return accountFromClaims(token.UID, token.Claims), nil
}

func (f *FirebaseAuthenticator) CreateUser(ctx context.Context, email, password, displayName, photoURL string) (Account, error) {
	params := (&auth.UserToCreate{}).Email(email).Password(password)
	if displayName != "" {
		params = params.DisplayName(displayName)
	}
	if photoURL != "" {
		params = params.PhotoURL(photoURL)
	}
	rec, err := f.client.CreateUser(ctx, params)
	if err != nil {
		return Account{}, mapAuthError(syncErrors.OpSignIn, err)
	}
	return Account{UID: rec.UID, Email: rec.Email, DisplayName: rec.DisplayName, PhotoURL: rec.PhotoURL}, nil
}

func (f *FirebaseAuthenticator) UpdateUser(ctx context.Context, uid, displayName, photoURL string) error {
	if displayName == "" && photoURL == "" {
		return nil
	}
	params := &auth.UserToUpdate{}
	if displayName != "" {
		params = params.DisplayName(displayName)
	}
	if photoURL != "" {
		params = params.PhotoURL(photoURL)
	}
	if _, err := f.client.UpdateUser(ctx, uid, params); err != nil {
		return mapAuthError(syncErrors.OpUpdateProfile, err)
	}
	return nil
}

func (f *FirebaseAuthenticator) DeleteUser(ctx context.Context, uid string) error {
	if err := f.client.DeleteUser(ctx, uid); err != nil {
		return mapAuthError(syncErrors.OpDelete, err)
	}
	return nil
}

func (f *FirebaseAuthenticator) PasswordResetLink(ctx context.Context, email string) (string, error) {
	link, err := f.client.PasswordResetLink(ctx, email)
	if err != nil {
		return "", mapAuthError(syncErrors.OpUpdateProfile, err)
	}
	return link, nil
}

func accountFromClaims(uid string, claims map[string]interface{}) Account {
	str := func(key string) string {
		s, _ := claims[key].(string)
		return s
	}
	return Account{UID: uid, Email: str("email"), DisplayName: str("name"), PhotoURL: str("picture")}
}

func mapAuthError(op syncErrors.Operation, err error) error {
	switch {
	case auth.IsUserNotFound(err):
		return syncErrors.E(op, component, syncErrors.KindNotFound, err)
	case auth.IsIDTokenInvalid(err), auth.IsIDTokenExpired(err), auth.IsIDTokenRevoked(err):
		return syncErrors.E(op, component, syncErrors.KindUnauthenticated, syncErrors.ErrCodeUnauthenticated, err)
	case auth.IsEmailAlreadyExists(err):
		return syncErrors.E(op, component, syncErrors.KindInvalid, err)
	default:
		return syncErrors.E(op, component, syncErrors.KindUnavailable, err)
	}
}
