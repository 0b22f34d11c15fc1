package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	opRegister          = "users.register"
	opAuthenticate      = "users.authenticate"
	opGetAccount        = "users.get_account"
	reasonMissingFields = "missing_fields"
	reasonWeakPassword  = "password_too_short"
	reasonUsernameTaken = "username_taken"
	reasonEmailTaken    = "email_taken"
	reasonHashFailed    = "hash_failed"
	reasonInsertFailed  = "insert_failed"
	reasonQueryFailed   = "query_failed"
	reasonBadLogin      = "invalid_credentials"
	reasonNotFound      = "account_not_found"
	minPasswordLength   = 8
	maxPasswordBytes    = 72
)

var (
	// ErrInvalidCredentials indicates an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrMissingFields indicates registration input without username, email or password.
	ErrMissingFields = errors.New("users: username, email and password are required")
	errWeakPassword  = fmt.Errorf("users: password must be %d to %d bytes", minPasswordLength, maxPasswordBytes)
	errAccountTaken  = errors.New("users: account already exists")
	errNoAccount     = errors.New("users: account not found")
)

// IDProvider generates account identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// HashCost overrides bcrypt.DefaultCost; tests use bcrypt.MinCost.
	HashCost int
}

// Service registers and authenticates accounts.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	hashCost   int
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = uuidProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
		hashCost:   hashCost,
	}, nil
}

// Register creates an account. Duplicate usernames or emails yield a conflict error.
func (s *Service) Register(ctx context.Context, username, email, password string) (Account, error) {
	username = normalize(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return Account{}, apperrors.Validation(opRegister, reasonMissingFields, ErrMissingFields)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordBytes {
		return Account{}, apperrors.Validation(opRegister, reasonWeakPassword, errWeakPassword)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		s.logError(opRegister, reasonHashFailed, err)
		return Account{}, apperrors.New(apperrors.KindPermanent, opRegister, reasonHashFailed, err)
	}
	accountID, err := s.idProvider.NewID()
	if err != nil {
		return Account{}, apperrors.New(apperrors.KindPermanent, opRegister, reasonInsertFailed, err)
	}

	account := Account{
		ID:               accountID,
		Username:         username,
		Email:            email,
		PasswordHash:     string(hash),
		CreatedAtSeconds: s.now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		classified := apperrors.ClassifyStore(opRegister, reasonInsertFailed, err)
		if apperrors.KindOf(classified) == apperrors.KindConflict {
			return Account{}, apperrors.New(apperrors.KindConflict, opRegister, s.conflictReason(ctx, email), errAccountTaken)
		}
		s.logError(opRegister, reasonInsertFailed, err, zap.String("username", username))
		return Account{}, classified
	}
	return account, nil
}

// Authenticate verifies a username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	username = normalize(username)
	if username == "" || password == "" {
		return Account{}, apperrors.Validation(opAuthenticate, reasonMissingFields, ErrMissingFields)
	}

	var account Account
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, apperrors.New(apperrors.KindValidation, opAuthenticate, reasonBadLogin, ErrInvalidCredentials)
	}
	if err != nil {
		s.logError(opAuthenticate, reasonQueryFailed, err, zap.String("username", username))
		return Account{}, apperrors.ClassifyStore(opAuthenticate, reasonQueryFailed, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Account{}, apperrors.New(apperrors.KindValidation, opAuthenticate, reasonBadLogin, ErrInvalidCredentials)
	}
	return account, nil
}

// Get returns the account with the given id.
func (s *Service) Get(ctx context.Context, accountID string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", normalize(accountID)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, apperrors.NotFound(opGetAccount, reasonNotFound, errNoAccount)
	}
	if err != nil {
		return Account{}, apperrors.ClassifyStore(opGetAccount, reasonQueryFailed, err)
	}
	return account, nil
}

func (s *Service) conflictReason(ctx context.Context, email string) string {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).Count(&count).Error; err == nil && count > 0 {
		return reasonEmailTaken
	}
	return reasonUsernameTaken
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("users service error", attrs...)
}

type uuidProvider struct{}

func (uuidProvider) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
