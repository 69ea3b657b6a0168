package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"usermanager/backend/internal/auth"
	"usermanager/backend/internal/model"
	"usermanager/backend/internal/policy"
	"usermanager/backend/internal/repository"
)

const (
	defaultPage  = 1
	defaultLimit = 50
	maxLimit     = 100

	defaultAdminName = "Administrator"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCallerNotFound     = errors.New("invalid token, user not found")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrInvalidPage        = errors.New("page must be >= 1")
	ErrInvalidLimit       = errors.New("limit must be between 1 and 100")
)

type PasswordHasher interface {
	Hash(raw string) (string, error)
	Verify(raw, hash string) bool
}

type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
	Verify(token string) (auth.Identity, error)
}

type RegisterInput struct {
	Name     string  `json:"name" validate:"required,min=2,max=100"`
	Email    string  `json:"email" validate:"required,email,max=255"`
	Password string  `json:"password" validate:"required,password"`
	Role     string  `json:"role" validate:"omitempty,oneof=Admin Staff"`
	Phone    *string `json:"phone" validate:"omitempty,phone"`
	City     *string `json:"city" validate:"omitempty,max=100"`
	Country  *string `json:"country" validate:"omitempty,max=100"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Token string
	User  model.User
}

// UpdateUserInput holds a partial profile update. Nil fields are left alone;
// an empty optional string clears the stored value.
type UpdateUserInput struct {
	Name    *string `json:"name" validate:"omitnil,min=2,max=100"`
	Phone   *string `json:"phone" validate:"omitempty,phone"`
	City    *string `json:"city" validate:"omitempty,max=100"`
	Country *string `json:"country" validate:"omitempty,max=100"`
	Role    *string `json:"role" validate:"omitnil,oneof=Admin Staff"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,password"`
}

type ListUsersInput struct {
	Query   string
	Country string
	Page    int
	Limit   int
}

type ListUsersResult struct {
	Users      []model.User `json:"users"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"totalPages"`
}

type BootstrapAdminInput struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,password"`
}

type BootstrapOutcome string

const (
	BootstrapSkipped  BootstrapOutcome = "skipped"
	BootstrapPromoted BootstrapOutcome = "promoted"
	BootstrapCreated  BootstrapOutcome = "created"
)

type UserService struct {
	repo   repository.UserRepository
	hasher PasswordHasher
	tokens TokenIssuer

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(repo repository.UserRepository, hasher PasswordHasher, tokens TokenIssuer) *UserService {
	return &UserService{repo: repo, hasher: hasher, tokens: tokens}
}

func (s *UserService) Register(ctx context.Context, input RegisterInput) (model.User, error) {
	input.Name = normalizeName(input.Name)
	input.Email = NormalizeEmail(input.Email)
	input.Role = strings.TrimSpace(input.Role)
	input.Phone = normalizePhone(input.Phone)
	input.City = trimOptional(input.City)
	input.Country = trimOptional(input.Country)
	if err := validateStruct(input); err != nil {
		return model.User{}, err
	}

	role, err := model.ParseRole(input.Role)
	if err != nil {
		return model.User{}, newValidationError("role", "role must be either Admin or Staff")
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, repository.CreateUserInput{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         role,
		Phone:        input.Phone,
		City:         input.City,
		Country:      input.Country,
	})
	if err != nil {
		return model.User{}, err
	}
	return withoutHash(user), nil
}

func (s *UserService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	input.Email = NormalizeEmail(input.Email)
	if err := validateStruct(input); err != nil {
		return LoginResult{}, err
	}

	user, err := s.repo.FindByEmail(ctx, input.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		// Unknown emails still pay for one bcrypt comparison.
		s.hasher.Verify(input.Password, s.placeholderHash())
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, User: withoutHash(user)}, nil
}

// Authenticate verifies a bearer token and resolves the caller from the
// current user row, so role changes and deletions apply immediately.
func (s *UserService) Authenticate(ctx context.Context, token string) (policy.Caller, error) {
	identity, err := s.tokens.Verify(token)
	if err != nil {
		return policy.Caller{}, err
	}

	user, err := s.repo.FindByID(ctx, identity.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return policy.Caller{}, ErrCallerNotFound
	}
	if err != nil {
		return policy.Caller{}, err
	}
	return policy.CallerFromUser(user), nil
}

func (s *UserService) ListUsers(ctx context.Context, caller policy.Caller, input ListUsersInput) (ListUsersResult, error) {
	if err := policy.AuthorizeList(caller); err != nil {
		return ListUsersResult{}, err
	}

	normalized, err := normalizeListUsersInput(input)
	if err != nil {
		return ListUsersResult{}, err
	}

	filter := repository.ListUsersFilter{
		Query:   normalized.Query,
		Country: normalized.Country,
		Limit:   normalized.Limit,
		Offset:  (normalized.Page - 1) * normalized.Limit,
	}
	if err := filter.Validate(); err != nil {
		return ListUsersResult{}, err
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListUsersResult{}, err
	}

	return ListUsersResult{
		Users:      users,
		Total:      total,
		Page:       normalized.Page,
		Limit:      normalized.Limit,
		TotalPages: (total + normalized.Limit - 1) / normalized.Limit,
	}, nil
}

func normalizeListUsersInput(input ListUsersInput) (ListUsersInput, error) {
	normalized := ListUsersInput{
		Query:   strings.TrimSpace(input.Query),
		Country: strings.TrimSpace(input.Country),
		Page:    input.Page,
		Limit:   input.Limit,
	}

	if normalized.Page == 0 {
		normalized.Page = defaultPage
	}
	if normalized.Limit == 0 {
		normalized.Limit = defaultLimit
	}

	if normalized.Page < 1 {
		return ListUsersInput{}, ErrInvalidPage
	}
	if normalized.Limit < 1 || normalized.Limit > maxLimit {
		return ListUsersInput{}, ErrInvalidLimit
	}
	return normalized, nil
}

func (s *UserService) GetUser(ctx context.Context, caller policy.Caller, id int64) (model.User, error) {
	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if err := policy.AuthorizeView(caller, target.ID); err != nil {
		return model.User{}, err
	}
	return withoutHash(target), nil
}

// UpdateUser applies a partial profile update. A role change requested by a
// non-admin is dropped without error.
func (s *UserService) UpdateUser(ctx context.Context, caller policy.Caller, id int64, input UpdateUserInput) (model.User, error) {
	if input.Name != nil {
		name := normalizeName(*input.Name)
		input.Name = &name
	}
	if input.Role != nil {
		role := strings.TrimSpace(*input.Role)
		input.Role = &role
	}
	input.Phone = normalizePhone(input.Phone)
	input.City = trimOptional(input.City)
	input.Country = trimOptional(input.Country)
	if err := validateStruct(input); err != nil {
		return model.User{}, err
	}

	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if err := policy.AuthorizeUpdate(caller, target.ID); err != nil {
		return model.User{}, err
	}

	update := repository.UpdateUserInput{
		Name:    input.Name,
		Phone:   input.Phone,
		City:    input.City,
		Country: input.Country,
	}
	if input.Role != nil && policy.CanChangeRole(caller) {
		role, err := model.ParseRole(*input.Role)
		if err != nil {
			return model.User{}, newValidationError("role", "role must be either Admin or Staff")
		}
		update.Role = &role
	}

	updated, err := s.repo.Update(ctx, target.ID, update)
	if err != nil {
		return model.User{}, err
	}
	return withoutHash(updated), nil
}

func (s *UserService) DeleteUser(ctx context.Context, caller policy.Caller, id int64) error {
	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.AuthorizeDelete(caller, target.ID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, target.ID)
}

// ChangePassword replaces the caller's own password after re-checking the
// current one.
func (s *UserService) ChangePassword(ctx context.Context, caller policy.Caller, id int64, input ChangePasswordInput) error {
	if err := validateStruct(input); err != nil {
		return err
	}

	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.AuthorizePasswordChange(caller, target.ID); err != nil {
		return err
	}
	if !s.hasher.Verify(input.CurrentPassword, target.PasswordHash) {
		return ErrWrongPassword
	}

	hash, err := s.hasher.Hash(input.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, target.ID, hash)
}

// BootstrapAdmin makes sure at least one Admin exists. When none does, the
// account with the given email is promoted, or created if it is missing.
// Calling it again once an Admin exists does nothing.
func (s *UserService) BootstrapAdmin(ctx context.Context, input BootstrapAdminInput) (BootstrapOutcome, error) {
	input.Name = normalizeName(input.Name)
	if input.Name == "" {
		input.Name = defaultAdminName
	}
	input.Email = NormalizeEmail(input.Email)
	if err := validateStruct(input); err != nil {
		return "", err
	}

	admins, err := s.repo.CountByRole(ctx, model.RoleAdmin)
	if err != nil {
		return "", err
	}
	if admins > 0 {
		return BootstrapSkipped, nil
	}

	existing, err := s.repo.FindByEmail(ctx, input.Email)
	if err == nil {
		role := model.RoleAdmin
		if _, err := s.repo.Update(ctx, existing.ID, repository.UpdateUserInput{Role: &role}); err != nil {
			return "", err
		}
		return BootstrapPromoted, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return "", err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	_, err = s.repo.Create(ctx, repository.CreateUserInput{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
	})
	if errors.Is(err, repository.ErrEmailTaken) {
		return BootstrapSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return BootstrapCreated, nil
}

func (s *UserService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("placeholder-Passw0rd")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func withoutHash(u model.User) model.User {
	u.PasswordHash = ""
	return u
}
