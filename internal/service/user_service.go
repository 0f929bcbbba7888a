package service

import (
	"context"

	"github.com/quizdesk/user-service/internal/model"
	"github.com/quizdesk/user-service/internal/repository"
)

// UserService handles user account business logic.
type UserService struct {
	userRepo *repository.UserRepository
}

// NewUserService creates a new UserService.
func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id int) (*model.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// GetByEmail retrieves a user by email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.userRepo.GetByEmail(ctx, email)
}

// Register creates a new student account with an already-hashed password.
// Duplicate emails surface as repository.ErrDuplicateEmail.
func (s *UserService) Register(ctx context.Context, name, email, passwordHash string) (*model.User, error) {
	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         model.RoleStudent,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateAdmin creates an administrator account. Used by the bootstrap CLI.
func (s *UserService) CreateAdmin(ctx context.Context, name, email, passwordHash string) (*model.User, error) {
	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         model.RoleAdmin,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
