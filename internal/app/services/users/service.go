// Package users handles registration, authentication and account lifecycle.
package users

import (
	"context"
	stderrors "errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage"
	"github.com/civicwatch/fundwatch/internal/auth"
	"github.com/civicwatch/fundwatch/internal/errors"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 6

// Service manages user accounts and issues session tokens.
type Service struct {
	store  storage.UserStore
	tokens *auth.Issuer
	log    *logger.Logger
}

// New constructs a users service.
func New(store storage.UserStore, tokens *auth.Issuer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, tokens: tokens, log: log}
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// Register creates an account and returns it with a signed token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Department = strings.TrimSpace(in.Department)

	if in.Name == "" {
		return user.User{}, "", errors.Validation("Name is required.")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return user.User{}, "", errors.Validation("A valid email is required.")
	}
	if len(in.Password) < MinPasswordLength {
		return user.User{}, "", errors.Validation("Password must be at least 6 characters.")
	}

	role := user.Role(in.Role)
	if in.Role == "" {
		role = user.RoleCitizen
	}
	if !role.Valid() {
		return user.User{}, "", errors.Validation("Role must be citizen, govt_official or admin.")
	}
	if role == user.RoleGovtOfficial && in.Department == "" {
		return user.User{}, "", errors.Validation("Department is required for government officials.")
	}
	if role != user.RoleGovtOfficial {
		in.Department = ""
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, "", errors.Internal("", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		Department:   in.Department,
		Active:       true,
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrEmailTaken) {
			return user.User{}, "", errors.Validation("User already exists.")
		}
		return user.User{}, "", errors.Internal("", err)
	}

	token, err := s.tokens.Issue(created)
	if err != nil {
		return user.User{}, "", errors.Internal("", err)
	}

	s.log.WithField("user_id", created.ID).
		WithField("role", string(created.Role)).
		Info("user registered")
	return created, token, nil
}

// Authenticate verifies credentials and returns the account with a fresh
// token. Unknown emails, wrong passwords and deactivated accounts all
// surface as the same unauthorized error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return user.User{}, "", errors.Validation("Email and password are required.")
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return user.User{}, "", errors.Unauthorized("Invalid credentials.")
		}
		return user.User{}, "", errors.Internal("", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": email})
		return user.User{}, "", errors.Unauthorized("Invalid credentials.")
	}
	if !u.Active {
		s.log.LogSecurityEvent(ctx, "login_deactivated", map[string]interface{}{"user_id": u.ID})
		return user.User{}, "", errors.Unauthorized("Invalid credentials.")
	}

	token, err := s.tokens.Issue(u)
	if err != nil {
		return user.User{}, "", errors.Internal("", err)
	}
	return u, token, nil
}

// Get returns the account for an id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return user.User{}, errors.NotFound("User not found.")
		}
		return user.User{}, errors.Internal("", err)
	}
	return u, nil
}

// Deactivate disables an account. Existing tokens keep verifying but the
// account can no longer log in.
func (s *Service) Deactivate(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return user.User{}, errors.NotFound("User not found.")
		}
		return user.User{}, errors.Internal("", err)
	}
	if !u.Active {
		return u, nil
	}

	u.Active = false
	u, err = s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, errors.Internal("", err)
	}
	s.log.WithField("user_id", u.ID).Info("user deactivated")
	return u, nil
}
