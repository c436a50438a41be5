package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/draftpit/exchange/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore persists account credentials.
type CredentialStore interface {
	CreateAccount(ctx context.Context, id, username, passwordHash string, balance decimal.Decimal) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, string, error)
}

// Service handles account registration, login, and JWT issuance.
type Service struct {
	store          CredentialStore
	secret         []byte
	openingBalance decimal.Decimal
}

// NewService creates an auth service. openingBalance is the cash grant every
// new account starts with.
func NewService(store CredentialStore, secret string, openingBalance decimal.Decimal) *Service {
	return &Service{store: store, secret: []byte(secret), openingBalance: openingBalance}
}

// Register creates a new account with a hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*models.Account, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.CreateAccount(ctx, uuid.NewString(), username, string(hashedPassword), s.openingBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

// Login verifies credentials and generates a JWT.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	acct, hash, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": acct.ID,
		"username":   acct.Username,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// AccountFromToken extracts the account ID from a JWT.
func (s *Service) AccountFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		accountID, ok := claims["account_id"].(string)
		if !ok {
			return "", fmt.Errorf("token missing account_id claim")
		}
		return accountID, nil
	}
	return "", fmt.Errorf("invalid token")
}
