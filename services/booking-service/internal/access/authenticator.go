package access

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/agenda-clinica/agenda/libs/auth"
	"github.com/agenda-clinica/agenda/services/booking-service/internal/model"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (model.User, bool, error)
	CreateIfAbsent(ctx context.Context, user model.User) (bool, error)
}

// Authenticator exchanges admin credentials for a signed bearer token.
type Authenticator struct {
	users  UserStore
	signer *auth.Signer
	// dummyHash is compared against when the email is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

func NewAuthenticator(users UserStore, signer *auth.Signer) (*Authenticator, error) {
	var pad [24]byte
	if _, err := rand.Read(pad[:]); err != nil {
		return nil, err
	}
	dummy, err := hashPassword(fmt.Sprintf("%x", pad))
	if err != nil {
		return nil, err
	}
	return &Authenticator{users: users, signer: signer, dummyHash: []byte(dummy)}, nil
}

// Login returns a token for a valid email/password pair and
// ErrInvalidCredentials otherwise.
func (a *Authenticator) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	user, found, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !found {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return "", ErrInvalidCredentials
	}
	if !verifyPassword(user.PasswordHash, password) {
		return "", ErrInvalidCredentials
	}

	return a.signer.Sign(auth.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Role:   auth.ParseRole(user.Role),
	})
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
