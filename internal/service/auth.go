package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository определяет контракт хранения пользователей
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthService выпускает и проверяет токены доступа
type AuthService interface {
	Register(ctx context.Context, email, name, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, *models.User, error)
	IssueToken(user *models.User) (string, error)
	ParseToken(tokenString string) (models.Caller, error)
}

type authService struct {
	repo   UserRepository
	logger *logrus.Logger
	cfg    *config.Config
	now    func() time.Time
}

func NewAuthService(repo UserRepository, logger *logrus.Logger, cfg *config.Config) AuthService {
	return &authService{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Register создаёт пользователя с ролью USER
func (s *authService) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "auth",
		"method":  "Register",
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, NewValidationError("password cannot be used")
	}

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, NewConflictError("email already registered", err)
		}
		log.WithError(err).Error("Failed to create user in repository")
		return nil, NewUpstreamError("could not register user", err)
	}
	log.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// Login проверяет пароль и выпускает токен доступа
func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "auth",
		"method":  "Login",
	})

	user, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, NewUnauthenticatedError("invalid email or password")
		}
		log.WithError(err).Error("Failed to get user by email")
		return "", nil, NewUpstreamError("could not authenticate", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.WithField("user_id", user.ID).Warn("Password mismatch")
		return "", nil, NewUnauthenticatedError("invalid email or password")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		log.WithError(err).Error("Failed to sign token")
		return "", nil, NewUpstreamError("could not issue token", err)
	}
	return token, user, nil
}

// IssueToken подписывает HS256 токен с идентификатором и ролью пользователя
func (s *authService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": string(user.Role),
		"name": user.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(s.cfg.JWTTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ParseToken проверяет подпись и срок действия токена и возвращает вызывающего
func (s *authService) ParseToken(tokenString string) (models.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return models.Caller{}, NewUnauthenticatedError("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Caller{}, NewUnauthenticatedError("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return models.Caller{}, NewUnauthenticatedError(fmt.Sprintf("invalid subject in token: %q", sub))
	}

	role, _ := claims["role"].(string)
	name, _ := claims["name"].(string)
	return models.Caller{
		UserID: userID,
		Role:   models.Role(role),
		Name:   name,
	}, nil
}
