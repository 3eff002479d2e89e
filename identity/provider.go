package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/metrics"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/notify"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/syncstate"
)

// User-facing notices.
const (
	MsgProfileUpdated      = "Profile updated successfully!"
	MsgProfileUpdateFailed = "Failed to update profile. Please try again."
	MsgAccountDeleted      = "Account deleted successfully."
	MsgAccountDeleteFailed = "Failed to delete account. Please re-login and try again."
	MsgResetLinkSent       = "Password reset email sent."
	MsgResetLinkFailed     = "Failed to send password reset email."
)

// immutable profile fields; they identify the row and its owner.
var immutableFields = []string{"_id", "id", "uid", "email"}

// Provider is the identity session. It is safe for concurrent use.
type Provider struct {
	auth     Authenticator
	store    remote.Store
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  metrics.Collector
	now      func() time.Time

	mu      sync.RWMutex
	account *Account
	profile *model.Identity
	token   string

	listeners syncstate.Listeners[*model.Identity]
}

// Option configures a Provider.
type Option func(*Provider)

func WithNotifier(n notify.Notifier) Option {
	return func(p *Provider) {
		if n != nil {
			p.notifier = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l.WithComponent(logging.Component(component))
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(p *Provider) {
		if c != nil {
			p.metrics = c
		}
	}
}

// WithClock replaces time.Now for profile timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvider returns a signed-out provider.
func NewProvider(auth Authenticator, store remote.Store, opts ...Option) *Provider {
	p := &Provider{
		auth:     auth,
		store:    store,
		notifier: notify.Nop{},
		logger:   logging.WithComponent(logging.Component(component)),
		metrics:  metrics.NoOp{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignIn verifies idToken and loads (or creates) the profile row for its email. A failure to
// reach the users collection does not fail the sign-in; the session then carries a profile
// built from the account alone.
func (p *Provider) SignIn(ctx context.Context, idToken string) (profile model.Identity, err error) {
	defer metrics.Since(p.metrics, string(component), string(syncErrors.OpSignIn), time.Now(), &err)

	acct, err := p.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return model.Identity{}, syncErrors.E(syncErrors.OpSignIn, component, err)
	}
	if acct.Email == "" {
		return model.Identity{}, syncErrors.E(syncErrors.OpSignIn, component, syncErrors.KindUnauthenticated, "account has no email")
	}
	return p.establish(ctx, acct, idToken), nil
}

// Register creates an account and signs it in.
func (p *Provider) Register(ctx context.Context, email, password, displayName, photoURL string) (profile model.Identity, err error) {
	defer metrics.Since(p.metrics, string(component), "register", time.Now(), &err)

	acct, err := p.auth.CreateUser(ctx, strings.TrimSpace(email), password, strings.TrimSpace(displayName), photoURL)
	if err != nil {
		return model.Identity{}, syncErrors.E(syncErrors.OpSignIn, component, "register", err)
	}
	return p.establish(ctx, acct, ""), nil
}

func (p *Provider) establish(ctx context.Context, acct Account, token string) model.Identity {
	profile, err := p.ensureProfile(ctx, acct)
	if err != nil {
		p.logger.LogError(ctx, err, "profile sync failed, continuing with account data",
			slog.String("email", acct.Email))
		profile = p.newProfile(acct)
	}

	p.mu.Lock()
	p.account = &acct
	p.profile = &profile
	p.token = token
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "signed in", slog.String("email", acct.Email), slog.String("role", string(profile.Role)))
	p.emit(&profile)
	return profile
}

// ensureProfile finds the users row by email, creating it on first sign-in.
func (p *Provider) ensureProfile(ctx context.Context, acct Account) (model.Identity, error) {
	existing, found, err := p.lookup(ctx, acct.Email)
	if err != nil {
		return model.Identity{}, err
	}
	if found {
		return existing, nil
	}

	profile := p.newProfile(acct)
	id, err := p.store.Create(ctx, remote.Users, profile)
	if err != nil {
		return model.Identity{}, syncErrors.E(syncErrors.OpSignIn, component, "create profile", err)
	}
	profile.ID = id
	return profile, nil
}

// lookup reads every users row and filters by email on the client.
func (p *Provider) lookup(ctx context.Context, email string) (model.Identity, bool, error) {
	docs, err := p.store.List(ctx, remote.Users)
	if err != nil {
		return model.Identity{}, false, syncErrors.E(syncErrors.OpSignIn, component, "load profiles", err)
	}
	for _, doc := range docs {
		u, err := remote.Decode[model.Identity](doc)
		if err != nil {
			p.logger.Warn("skipping malformed profile", slog.String("error", err.Error()))
			continue
		}
		if strings.EqualFold(u.Email, email) {
			return u, true, nil
		}
	}
	return model.Identity{}, false, nil
}

func (p *Provider) newProfile(acct Account) model.Identity {
	photo := acct.PhotoURL
	if photo == "" {
		photo = model.DefaultAvatar
	}
	loyalty := model.DefaultLoyalty()
	return model.Identity{
		UID:         acct.UID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		PhotoURL:    photo,
		Role:        model.RoleUser,
		CreatedAt:   model.Timestamp{Time: p.now().UTC()},
		Loyalty:     &loyalty,
	}
}

// SignOut forgets the session.
func (p *Provider) SignOut() {
	p.mu.Lock()
	wasSignedIn := p.account != nil
	p.account, p.profile, p.token = nil, nil, ""
	p.mu.Unlock()
	if wasSignedIn {
		p.emit(nil)
	}
}

// Current returns a copy of the signed-in profile.
func (p *Provider) Current() (model.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.profile == nil {
		return model.Identity{}, false
	}
	return copyProfile(*p.profile), true
}

// Email returns the signed-in email, or "" when signed out. Carts and wishlists key on it.
func (p *Provider) Email() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.account == nil {
		return ""
	}
	return p.account.Email
}

func (p *Provider) SignedIn() bool {
	return p.Email() != ""
}

// Token returns the ID token of the session, or "" when there is none. It matches
// rest.TokenSource.
func (p *Provider) Token(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, nil
}

// OnChange registers fn to run after every sign-in, sign-out and profile change. fn receives
// nil on sign-out.
func (p *Provider) OnChange(fn func(*model.Identity)) (cancel func()) {
	return p.listeners.Add(fn)
}

func (p *Provider) emit(profile *model.Identity) {
	if profile != nil {
		c := copyProfile(*profile)
		profile = &c
	}
	p.listeners.Notify(profile)
}

// UpdateProfile applies a partial update. Display name and photo go to the authentication
// provider as well; the users row is written only when the profile has a row id. Local state
// changes only after both succeed.
func (p *Provider) UpdateProfile(ctx context.Context, fields map[string]any) (err error) {
	defer metrics.Since(p.metrics, string(component), string(syncErrors.OpUpdateProfile), time.Now(), &err)
	defer func() {
		if err != nil {
			p.logger.LogError(ctx, err, "profile update failed")
			p.notifier.Failure(ctx, MsgProfileUpdateFailed)
		}
	}()

	p.mu.RLock()
	acct, current := p.account, p.profile
	p.mu.RUnlock()
	if acct == nil {
		return syncErrors.NewUnauthenticatedError(syncErrors.OpUpdateProfile, string(component))
	}
	for _, f := range immutableFields {
		if _, ok := fields[f]; ok {
			return syncErrors.NewValidationError(syncErrors.OpUpdateProfile, fmt.Errorf("field %q cannot be changed", f))
		}
	}
	if r, ok := fields["role"]; ok {
		if s, _ := r.(string); !model.Role(s).Valid() {
			return syncErrors.NewValidationError(syncErrors.OpUpdateProfile, fmt.Errorf("unknown role %v", r))
		}
	}

	updated, err := mergeProfile(*current, fields)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpUpdateProfile, err)
	}

	name, _ := fields["displayName"].(string)
	photo, _ := fields["photoURL"].(string)
	if name != "" || photo != "" {
		if err := p.auth.UpdateUser(ctx, acct.UID, name, photo); err != nil {
			return syncErrors.E(syncErrors.OpUpdateProfile, component, err)
		}
	}
	if current.ID != "" {
		if err := p.store.Update(ctx, remote.Users, current.ID, fields); err != nil {
			return syncErrors.E(syncErrors.OpUpdateProfile, component, err)
		}
	}

	p.mu.Lock()
	if p.account == nil || p.account.UID != acct.UID {
		// signed out or switched while the update ran
		p.mu.Unlock()
		return nil
	}
	p.profile = &updated
	p.mu.Unlock()

	p.notifier.Success(ctx, MsgProfileUpdated)
	p.emit(&updated)
	return nil
}

// Refresh reloads the profile row of the signed-in email.
func (p *Provider) Refresh(ctx context.Context) error {
	email := p.Email()
	if email == "" {
		return syncErrors.NewUnauthenticatedError(syncErrors.OpFetch, string(component))
	}
	profile, found, err := p.lookup(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return syncErrors.E(syncErrors.OpFetch, component, syncErrors.KindNotFound, fmt.Sprintf("no profile for %s", email))
	}

	p.mu.Lock()
	if p.account == nil || !strings.EqualFold(p.account.Email, email) {
		p.mu.Unlock()
		return nil
	}
	p.profile = &profile
	p.mu.Unlock()
	p.emit(&profile)
	return nil
}

// ResetPassword asks the authentication provider for a reset link.
func (p *Provider) ResetPassword(ctx context.Context, email string) (string, error) {
	link, err := p.auth.PasswordResetLink(ctx, strings.TrimSpace(email))
	if err != nil {
		p.logger.LogError(ctx, err, "password reset failed", slog.String("email", email))
		p.notifier.Failure(ctx, MsgResetLinkFailed)
		return "", syncErrors.E(syncErrors.OpUpdateProfile, component, err)
	}
	p.notifier.Success(ctx, MsgResetLinkSent)
	return link, nil
}

// DeleteAccount removes the signed-in account from the authentication provider and signs out.
// The users row is kept.
func (p *Provider) DeleteAccount(ctx context.Context) error {
	p.mu.RLock()
	acct := p.account
	p.mu.RUnlock()
	if acct == nil {
		p.notifier.Failure(ctx, MsgAccountDeleteFailed)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpDelete, string(component))
	}
	if err := p.auth.DeleteUser(ctx, acct.UID); err != nil {
		p.logger.LogError(ctx, err, "account deletion failed", slog.String("uid", acct.UID))
		p.notifier.Failure(ctx, MsgAccountDeleteFailed)
		return syncErrors.E(syncErrors.OpDelete, component, err)
	}
	p.notifier.Success(ctx, MsgAccountDeleted)
	p.SignOut()
	return nil
}

func mergeProfile(current model.Identity, fields map[string]any) (model.Identity, error) {
	base, err := json.Marshal(current)
	if err != nil {
		return model.Identity{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(base, &doc); err != nil {
		return model.Identity{}, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return model.Identity{}, err
	}
	var out model.Identity
	if err := json.Unmarshal(merged, &out); err != nil {
		return model.Identity{}, fmt.Errorf("apply profile fields: %w", err)
	}
	return out, nil
}

func copyProfile(in model.Identity) model.Identity {
	if in.Loyalty != nil {
		l := *in.Loyalty
		in.Loyalty = &l
	}
	return in
}
