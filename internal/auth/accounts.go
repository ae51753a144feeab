package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"securecms.org/internal/audit"
	"securecms.org/internal/obs"
)

// ErrTooManyAttempts is returned by Login while an account is locked out.
var ErrTooManyAttempts = errors.New("auth: too many failed login attempts")

// LockoutError is the ErrTooManyAttempts returned by Login. RetryAfter is
// zero when the throttle cannot tell how long the lock lasts.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string { return ErrTooManyAttempts.Error() }

func (e *LockoutError) Unwrap() error { return ErrTooManyAttempts }

// FieldCipher encrypts sensitive fields at rest.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// LoginThrottle tracks failed logins. Allowed reports false while key is
// locked out and Remaining says for how long.
type LoginThrottle interface {
	Allowed(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (time.Duration, error)
	Failure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// RegisterInput carries a self-registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	SSN      string
	Phone    string
}

// LoginInput carries credentials.
type LoginInput struct {
	Username string
	Password string
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PII holds decrypted sensitive fields.
type PII struct {
	UserID int64  `json:"userId"`
	SSN    string `json:"ssn,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// Accounts handles registration, login and account lifecycle.
type Accounts struct {
	store       Store
	auditor     Auditor
	cipher      FieldCipher
	issuer      *Issuer
	throttle    LoginThrottle
	defaultRole string
	now         func() time.Time
}

// AccountsOption configures Accounts.
type AccountsOption func(*Accounts)

// WithDefaultRole sets the role granted at registration. Empty disables it.
func WithDefaultRole(name string) AccountsOption {
	return func(a *Accounts) { a.defaultRole = strings.TrimSpace(name) }
}

// WithLoginThrottle enables the failed-login lockout.
func WithLoginThrottle(t LoginThrottle) AccountsOption {
	return func(a *Accounts) { a.throttle = t }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if fn != nil {
			a.now = fn
		}
	}
}

func NewAccounts(store Store, auditor Auditor, cipher FieldCipher, issuer *Issuer, opts ...AccountsOption) (*Accounts, error) {
	switch {
	case store == nil:
		return nil, errors.New("accounts store is required")
	case auditor == nil:
		return nil, errors.New("auditor is required")
	case cipher == nil:
		return nil, errors.New("field cipher is required")
	case issuer == nil:
		return nil, errors.New("token issuer is required")
	}
	a := &Accounts{
		store:       store,
		auditor:     auditor,
		cipher:      cipher,
		issuer:      issuer,
		defaultRole: "Author",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Register creates an active user with encrypted PII and the default role.
// The new user is recorded as the actor when the request is anonymous.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if in.Password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	ssn, err := a.cipher.Encrypt(strings.TrimSpace(in.SSN))
	if err != nil {
		return User{}, fmt.Errorf("encrypt ssn: %w", err)
	}
	phone, err := a.cipher.Encrypt(strings.TrimSpace(in.Phone))
	if err != nil {
		return User{}, fmt.Errorf("encrypt phone: %w", err)
	}

	var user User
	err = a.store.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := a.store.UserExists(ctx, in.Username, in.Email)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: username or email already registered", ErrConflict)
		}
		user = User{
			Username:       in.Username,
			Email:          in.Email,
			PasswordHash:   hash,
			FullName:       in.FullName,
			EncryptedSSN:   ssn,
			EncryptedPhone: phone,
			IsActive:       true,
			CreatedAt:      a.now().UTC(),
		}
		if err := a.store.CreateUser(ctx, &user); err != nil {
			return err
		}
		if _, ok := audit.ActorFromContext(ctx); !ok {
			id := user.ID
			ctx = audit.WithActor(ctx, audit.Actor{UserID: &id, Username: user.Username})
		}
		if err := auditInsert(ctx, a.auditor, TableUsers, user); err != nil {
			return err
		}
		return a.assignDefaultRole(ctx, user.ID)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (a *Accounts) assignDefaultRole(ctx context.Context, userID int64) error {
	if a.defaultRole == "" {
		return nil
	}
	role, err := a.store.GetRoleByName(ctx, a.defaultRole)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	as := Assignment{UserID: userID, RoleID: role.ID, AssignedAt: a.now().UTC()}
	if err := a.store.AssignRole(ctx, &as); err != nil {
		return err
	}
	return auditInsert(ctx, a.auditor, TableUserRoles, as)
}

// Login verifies credentials and issues a session token. Every credential
// failure is ErrUnauthenticated.
func (a *Accounts) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		obs.ObserveLogin("invalid")
		return LoginResult{}, ErrUnauthenticated
	}
	key := "login:" + username
	if a.throttle != nil {
		ok, err := a.throttle.Allowed(ctx, key)
		if err != nil {
			return LoginResult{}, fmt.Errorf("login throttle: %w", err)
		}
		if !ok {
			obs.ObserveLogin("locked")
			left, err := a.throttle.Remaining(ctx, key)
			if err != nil {
				obs.Error("login throttle ttl failed", err, map[string]any{"username": username})
			}
			return LoginResult{}, &LockoutError{RetryAfter: left}
		}
	}

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LoginResult{}, err
	}
	// Unknown usernames still pay for one bcrypt comparison.
	hash := user.PasswordHash
	if err != nil {
		hash = absentUserHash()
	}
	matched := verifyPassword(hash, in.Password)
	if err != nil || !user.IsActive || !matched {
		return LoginResult{}, a.loginFailed(ctx, key, username)
	}

	now := a.now().UTC()
	var roles []string
	ctx = audit.WithActor(ctx, audit.Actor{UserID: &user.ID, Username: user.Username})
	err = a.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := a.store.SetLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		after := user
		after.LastLoginAt = &now
		if err := auditUpdate(ctx, a.auditor, TableUsers, user, after); err != nil {
			return err
		}
		var err error
		roles, err = a.store.RoleNamesForUser(ctx, user.ID)
		return err
	})
	if err != nil {
		return LoginResult{}, err
	}

	token, expiresAt, err := a.issuer.Issue(user, roles, now)
	if err != nil {
		return LoginResult{}, err
	}
	if a.throttle != nil {
		if err := a.throttle.Reset(ctx, key); err != nil {
			obs.Error("login throttle reset failed", err, map[string]any{"username": username})
		}
	}
	obs.ObserveLogin("success")
	return LoginResult{Token: token, Username: user.Username, Roles: dedupeRoles(roles), ExpiresAt: expiresAt}, nil
}

func (a *Accounts) loginFailed(ctx context.Context, key, username string) error {
	obs.ObserveLogin("failure")
	if a.throttle != nil {
		if err := a.throttle.Failure(ctx, key); err != nil {
			obs.Error("login throttle update failed", err, map[string]any{"username": username})
		}
	}
	_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{"username": username})
	return ErrUnauthenticated
}

// Authenticate validates a session token as of now.
func (a *Accounts) Authenticate(token string) (Subject, error) {
	claims, err := a.issuer.Validate(token, a.now())
	if err != nil {
		return Subject{}, err
	}
	return SubjectFromClaims(claims), nil
}

// DecryptPII returns the plaintext sensitive fields of userID.
func (a *Accounts) DecryptPII(ctx context.Context, userID int64) (PII, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return PII{}, err
	}
	ssn, err := a.cipher.Decrypt(user.EncryptedSSN)
	if err != nil {
		return PII{}, fmt.Errorf("decrypt ssn: %w", err)
	}
	phone, err := a.cipher.Decrypt(user.EncryptedPhone)
	if err != nil {
		return PII{}, fmt.Errorf("decrypt phone: %w", err)
	}
	return PII{UserID: user.ID, SSN: ssn, Phone: phone}, nil
}

// Deactivate disables userID. Users are never hard-deleted.
func (a *Accounts) Deactivate(ctx context.Context, userID int64) (User, error) {
	if userID <= 0 {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	var after User
	err := a.store.WithinTx(ctx, func(ctx context.Context) error {
		before, err := a.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		after = before
		if !before.IsActive {
			return nil
		}
		if err := a.store.SetUserActive(ctx, userID, false); err != nil {
			return err
		}
		after.IsActive = false
		return auditUpdate(ctx, a.auditor, TableUsers, before, after)
	})
	if err != nil {
		return User{}, err
	}
	return after, nil
}
