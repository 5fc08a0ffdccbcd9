package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zenithcms/sentinel/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateUserOptions struct {
	Username string
	FullName string
	Email    string
	Password string
	Role     string
}

// UserService is the account collaborator: lookup, credential check and
// last-login bookkeeping. The security pipeline treats it as external.
type UserService struct {
	userRepo UserRepository
}

func NewUserService(userRepo UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) GetUserByID(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// Authenticate verifies the credentials and the account status. Unknown
// usernames and wrong passwords both map to ErrInvalidCredentials so the
// response does not leak which accounts exist.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrUserDisabled
	}
	return user, nil
}

func (s *UserService) UpdateLastLogin(ctx context.Context, userID uint, ip string, at time.Time) error {
	return s.userRepo.Updates(ctx, userID, touchLastLogin(at, ip))
}

// ListAdmins resolves the administrator set for anomaly notifications.
func (s *UserService) ListAdmins(ctx context.Context) ([]*model.User, error) {
	return s.userRepo.ListByRole(ctx, model.RoleAdmin)
}

func (s *UserService) CreateUser(ctx context.Context, opts CreateUserOptions) (*model.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	role := opts.Role
	if role == "" {
		role = model.RoleUser
	}
	user := model.User{
		Username: opts.Username,
		FullName: opts.FullName,
		Email:    opts.Email,
		Password: string(passwordHash),
		Role:     role,
		Status:   model.UserStatusActive,
	}

	var mysqlErr *mysql.MySQLError
	if err := s.userRepo.Create(ctx, &user); errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		if strings.Contains(mysqlErr.Message, "username") {
			return nil, ErrUsernameTaken
		}
		return nil, ErrEmailRegistered
	} else if err != nil {
		return nil, err
	}
	return &user, nil
}
