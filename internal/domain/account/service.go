package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/auth"
)

// invalidCredentials is the only message a failed login ever gets.
const invalidCredentials = "invalid username, password or role"

type Service struct {
	repo    Repository
	issuer  *auth.Issuer
	revoked *auth.RevocationList
	logger  zerolog.Logger
}

func NewService(repo Repository, issuer *auth.Issuer, revoked *auth.RevocationList, logger zerolog.Logger) *Service {
	return &Service{repo: repo, issuer: issuer, revoked: revoked, logger: logger}
}

func (s *Service) RegisterDoctor(ctx context.Context, r DoctorRegistration) (*Account, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	a := &Account{
		Username:      NormalizeUsername(r.Username),
		Role:          auth.RoleDoctor,
		FullName:      r.FullName,
		ContactNumber: r.ContactNumber,
		HospitalName:  optional(r.HospitalName),
		MedicalID:     optional(r.MedicalID),
	}
	return s.create(ctx, a, r.Password)
}

func (s *Service) RegisterPatient(ctx context.Context, r PatientRegistration) (*Account, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	age := r.Age
	a := &Account{
		Username:      NormalizeUsername(r.Username),
		Role:          auth.RolePatient,
		FullName:      r.FullName,
		ContactNumber: r.ContactNumber,
		Address:       optional(r.Address),
		Age:           &age,
		Gender:        optional(r.Gender),
	}
	return s.create(ctx, a, r.Password)
}

func (s *Service) create(ctx context.Context, a *Account, password string) (*Account, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	a.PasswordHash = hash

	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, apperr.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: that email address is already registered", apperr.ErrDuplicateKey)
		}
		return nil, err
	}
	s.logger.Info().Str("account_id", a.ID.String()).Str("role", a.Role).Msg("account registered")
	return a, nil
}

// Login checks credentials against the account registered for the requested
// role and issues a bearer token. Unknown users, wrong passwords and role
// mismatches all fail with the same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (auth.Token, *Account, error) {
	fail := fmt.Errorf("%w: %s", apperr.ErrUnauthorized, invalidCredentials)
	if !auth.ValidRole(req.Role) || req.Username == "" || req.Password == "" {
		return auth.Token{}, nil, fail
	}

	a, err := s.repo.GetByUsername(ctx, NormalizeUsername(req.Username))
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return auth.Token{}, nil, err
		}
		// Spend the same time as a real comparison.
		_, _ = auth.CheckPassword(dummyHash(), req.Password)
		return auth.Token{}, nil, fail
	}

	ok, err := auth.CheckPassword(a.PasswordHash, req.Password)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", a.ID.String()).Msg("stored password hash is unreadable")
		return auth.Token{}, nil, fail
	}
	if !ok || a.Role != req.Role {
		return auth.Token{}, nil, fail
	}

	tok, err := s.issuer.Issue(a.ID.String(), a.Username, a.Role)
	if err != nil {
		return auth.Token{}, nil, err
	}
	return tok, a, nil
}

// Logout revokes the presented token until it would have expired.
func (s *Service) Logout(info auth.TokenInfo) {
	if s.revoked != nil {
		s.revoked.Revoke(info.ID, info.ExpiresAt)
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

var (
	dummyOnce sync.Once
	dummy     string
)

func dummyHash() string {
	dummyOnce.Do(func() {
		dummy, _ = auth.HashPassword(uuid.NewString())
	})
	return dummy
}
