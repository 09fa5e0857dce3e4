// Package users manages accounts. Students and lecturers register themselves
// and can log in once an administrator approved them.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/store"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidUser        = errors.New("invalid user")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPendingApproval    = errors.New("account pending approval")
)

// emailsCollection maps a lower-cased email to the user owning it. Claims are
// written in the same transaction as the user so emails stay unique on every
// store driver.
const emailsCollection = "user_emails"

type emailClaim struct {
	Email  string `bson:"_id"`
	UserID string `bson:"userId"`
}

type Registration struct {
	Name     string `json:"name" binding:"required" validate:"required"`
	Email    string `json:"email" binding:"required" validate:"required,email"`
	Password string `json:"password" binding:"required" validate:"min=6"`
	Role     string `json:"role" binding:"required" validate:"oneof=student lecturer"`
}

// Patch lists the fields Update may change. Nil fields are left alone.
type Patch struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

type Service struct {
	store    store.Store
	tokens   *auth.Tokens
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

func NewService(s store.Store, tokens *auth.Tokens, log *slog.Logger) *Service {
	return &Service{
		store:    s,
		tokens:   tokens,
		validate: validator.New(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SessionOf is the session a token for u carries.
func SessionOf(u *models.User) auth.Session {
	return auth.Session{UserID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)}
}

// claimEmail reserves email for userID inside tx. Released claims keep an
// empty userId since the store has no delete.
func claimEmail(ctx context.Context, tx store.Tx, email, userID string) error {
	var existing emailClaim
	err := tx.Get(ctx, emailsCollection, email, &existing)
	switch {
	case err == nil && existing.UserID != "" && existing.UserID != userID:
		return ErrEmailTaken
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}
	return tx.Put(ctx, emailsCollection, email, emailClaim{Email: email, UserID: userID})
}

// create stores u and claims its email atomically.
func (s *Service) create(ctx context.Context, u models.User) error {
	return s.store.Transaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := claimEmail(ctx, tx, u.Email, u.ID); err != nil {
			return err
		}
		return tx.Put(ctx, models.UsersCollection, u.ID, u)
	})
}

// Register creates an unapproved student or lecturer account.
func (s *Service) Register(ctx context.Context, in Registration) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		ID:           models.NewID("USR"),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         models.Role(in.Role),
		IsApproved:   false,
		CreatedAt:    s.now(),
	}
	if err := s.create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("save user: %w", err)
	}
	s.log.Info("user registered", "id", u.ID, "role", u.Role)
	return &u, nil
}

func (s *Service) byEmail(ctx context.Context, email string) (*models.User, error) {
	var found []models.User
	if err := s.store.Find(ctx, models.UsersCollection, bson.M{"email": email}, &found); err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return &found[0], nil
}

// Login checks the password and returns a signed token for the account.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	u, err := s.byEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !auth.CheckPasswordHash(password, u.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}
	if !u.IsApproved {
		return "", nil, ErrPendingApproval
	}
	token, err := s.tokens.GenerateJWT(SessionOf(u))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.store.Get(ctx, models.UsersCollection, id, &u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := s.store.Find(ctx, models.UsersCollection, nil, &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Approve lets a registered account log in.
func (s *Service) Approve(ctx context.Context, id string) (*models.User, error) {
	if err := s.store.Update(ctx, models.UsersCollection, id, bson.M{"isApproved": true}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("approve user: %w", err)
	}
	s.log.Info("user approved", "id", id)
	return s.Get(ctx, id)
}

// Update changes name, email or role. An email change moves the claim.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*models.User, error) {
	var out models.User
	err := s.store.Transaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var u models.User
		if err := tx.Get(ctx, models.UsersCollection, id, &u); err != nil {
			return err
		}
		fields := bson.M{}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return fmt.Errorf("%w: name is required", ErrInvalidUser)
			}
			u.Name = name
			fields["name"] = name
		}
		if patch.Role != nil {
			role := models.Role(*patch.Role)
			switch role {
			case models.RoleAdmin, models.RoleStudent, models.RoleLecturer:
			default:
				return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, *patch.Role)
			}
			u.Role = role
			fields["role"] = role
		}
		if patch.Email != nil {
			email := normalizeEmail(*patch.Email)
			if err := s.validate.Var(email, "required,email"); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidUser, err)
			}
			if email != u.Email {
				if err := claimEmail(ctx, tx, email, u.ID); err != nil {
					return err
				}
				if err := tx.Put(ctx, emailsCollection, u.Email, emailClaim{Email: u.Email}); err != nil {
					return err
				}
				u.Email = email
				fields["email"] = email
			}
		}
		if len(fields) == 0 {
			return fmt.Errorf("%w: nothing to update", ErrInvalidUser)
		}
		out = u
		return tx.Update(ctx, models.UsersCollection, id, fields)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("user updated", "id", id)
	return &out, nil
}
