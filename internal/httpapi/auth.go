package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/ledger"
	"fabricbill/backend/internal/store"
)

const tokenIssuer = "fabricbill"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
)

// UserStore is the slice of the repository that holds shop accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and checks bearer tokens for shop accounts and holds the
// manager PIN that unlocks recycle-bin purges.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  string
	accounts *accountBook
}

type tokenClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: &accountBook{store: users, byName: map[string]account{}},
	}
	// An empty PIN leaves pinHash empty, which rejects every PIN.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := hashPassword(pin); err == nil {
			a.pinHash = hash
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.accounts.reload(ctx); err != nil {
		log.Warn().Err(err).Msg("loading shop accounts failed; retrying on first login")
	}
	return a
}

// Login checks the password of username and signs a token carrying its role.
// Accounts created or changed by another server instance are picked up by
// reloading the book on a miss.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	acct, ok := a.accounts.lookup(ctx, username)
	if ok && !acct.checkPassword(req.Password) {
		// The password may have been changed through another instance.
		if err := a.accounts.reload(ctx); err == nil {
			acct, ok = a.accounts.get(username)
		}
	}
	if !ok || !acct.checkPassword(req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acct.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, acct.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &tokenClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.Role != domain.RoleAdmin && claims.Role != domain.RoleStaff {
		return domain.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateManagerPIN guards irreversible recycle-bin actions.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || a.pinHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.pinHash), []byte(pin)) == nil
}

// CreateStaff adds a counter account. Usernames are case-insensitive.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	username := normalizeUsername(req.Username)
	if err := checkStaffRequest(username, req.Password); err != nil {
		return domain.StaffUser{}, err
	}
	if _, taken := a.accounts.lookup(ctx, username); taken {
		return domain.StaffUser{}, fmt.Errorf("username %s: %w", username, store.ErrConflict)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffUser{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.accounts.add(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.StaffUser{}, fmt.Errorf("username %s: %w", username, store.ErrConflict)
		}
		return domain.StaffUser{}, err
	}
	return staffView(username, accountFrom(user)), nil
}

// ListStaff returns the staff accounts sorted by username.
func (a *AuthManager) ListStaff(ctx context.Context) []domain.StaffUser {
	if err := a.accounts.reload(ctx); err != nil {
		log.Warn().Err(err).Msg("refreshing shop accounts failed; listing cached accounts")
	}
	return a.accounts.staff()
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func checkStaffRequest(username, password string) error {
	switch {
	case len(username) < 4:
		return &ledger.ValidationError{Field: "username", Message: "must be at least 4 characters"}
	case strings.ContainsAny(username, " \t\r\n"):
		return &ledger.ValidationError{Field: "username", Message: "must not contain spaces"}
	case len(strings.TrimSpace(password)) < 6:
		return &ledger.ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}
	return nil
}

type account struct {
	hash    string
	role    string
	active  bool
	created time.Time
}

func accountFrom(u domain.UserAccount) account {
	return account{hash: u.Password, role: u.Role, active: u.Active, created: u.CreatedAt}
}

func (acct account) checkPassword(password string) bool {
	if strings.TrimSpace(password) == "" || !isPasswordHash(acct.hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(acct.hash), []byte(password)) == nil
}

func staffView(username string, acct account) domain.StaffUser {
	return domain.StaffUser{Username: username, Role: acct.role, Active: acct.active, CreatedAt: acct.created}
}

// accountBook mirrors the user store in memory. Without a store it only
// knows the accounts created through it.
type accountBook struct {
	store UserStore

	mu     sync.RWMutex
	byName map[string]account
}

func (b *accountBook) get(username string) (account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acct, ok := b.byName[username]
	return acct, ok
}

// lookup reads username from the book, reloading once from the store on a
// miss.
func (b *accountBook) lookup(ctx context.Context, username string) (account, bool) {
	if acct, ok := b.get(username); ok {
		return acct, true
	}
	if err := b.reload(ctx); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("refreshing shop accounts failed")
	}
	return b.get(username)
}

// reload replaces the book with the store's accounts. Passwords still kept
// in plain text are rewritten as bcrypt hashes on the way in.
func (b *accountBook) reload(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	loaded := make(map[string]account, len(users))
	for _, u := range users {
		username := normalizeUsername(u.Username)
		if username == "" {
			continue
		}
		if !isPasswordHash(u.Password) {
			hash, err := hashPassword(u.Password)
			if err != nil {
				return fmt.Errorf("hash legacy password of %s: %w", username, err)
			}
			if err := b.store.UpdateUserPassword(ctx, u.Username, hash); err != nil {
				log.Warn().Err(err).Str("username", username).Msg("legacy password upgrade not persisted")
			}
			u.Password = hash
		}
		loaded[username] = accountFrom(u)
	}

	b.mu.Lock()
	b.byName = loaded
	b.mu.Unlock()
	return nil
}

func (b *accountBook) add(ctx context.Context, user domain.UserAccount) error {
	if b.store != nil {
		if err := b.store.CreateUser(ctx, user); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.byName[user.Username] = accountFrom(user)
	b.mu.Unlock()
	return nil
}

func (b *accountBook) staff() []domain.StaffUser {
	b.mu.RLock()
	out := make([]domain.StaffUser, 0, len(b.byName))
	for username, acct := range b.byName {
		if acct.role == domain.RoleStaff {
			out = append(out, staffView(username, acct))
		}
	}
	b.mu.RUnlock()
	slices.SortFunc(out, func(x, y domain.StaffUser) int { return strings.Compare(x.Username, y.Username) })
	return out
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
