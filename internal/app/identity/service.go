package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tasknotify/project/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidRole        = errors.New("role must be manager or employee")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TokenIssuer is satisfied by *auth.Manager.
type TokenIssuer interface {
	Issue(userID, role, name string) (string, error)
}

// PublicUser is the user shape exposed over HTTP.
type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type LoginResult struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

type Service struct {
	Repo     Repository
	Tokens   TokenIssuer
	NewID    func() string
	Now      func() time.Time
	HashCost int
}

func NewService(repo Repository, tokens TokenIssuer) *Service {
	return &Service{
		Repo:     repo,
		Tokens:   tokens,
		NewID:    uuid.NewString,
		Now:      func() time.Time { return time.Now().UTC() },
		HashCost: bcrypt.DefaultCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidRole(role string) bool {
	switch role {
	case auth.RoleManager, auth.RoleEmployee:
		return true
	default:
		return false
	}
}

func toPublic(u User) PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (PublicUser, error) {
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !IsValidRole(role) {
		return PublicUser{}, ErrInvalidRole
	}
	email := normalizeEmail(in.Email)

	if _, err := s.Repo.FindUserByEmail(ctx, email); err == nil {
		return PublicUser{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return PublicUser{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.HashCost)
	if err != nil {
		return PublicUser{}, err
	}

	now := s.Now()
	u := User{
		ID:           s.NewID(),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return PublicUser{}, err
	}
	return toPublic(u), nil
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.Tokens.Issue(u.ID, u.Role, u.Name)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, User: toPublic(u)}, nil
}

func (s *Service) Users(ctx context.Context) ([]PublicUser, error) {
	return s.list(ctx, "")
}

func (s *Service) Employees(ctx context.Context) ([]PublicUser, error) {
	return s.list(ctx, auth.RoleEmployee)
}

func (s *Service) list(ctx context.Context, role string) ([]PublicUser, error) {
	users, err := s.Repo.ListUsers(ctx, role)
	if err != nil {
		return nil, err
	}
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, toPublic(u))
	}
	return out, nil
}
