package person

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mehmetcc/session-token-service/internal/utils"
)

var (
	ErrHashingPasswordFailed = errors.New("hashing password failed")
	ErrInvalidEmailFormat    = errors.New("invalid email format")
	ErrInvalidName           = errors.New("name must not be empty")
	ErrInvalidCredentials    = errors.New("invalid credentials")
)

type PersonService interface {
	CreatePerson(ctx context.Context, name, email, password string) (*Person, error)
	// Verify returns the person owning email when password matches. An
	// unknown email and a wrong password are indistinguishable.
	Verify(ctx context.Context, email, password string) (*Person, error)
	ReadPersonByID(ctx context.Context, id uint) (*Person, error)
}

type personService struct {
	repo      PersonRepository
	clock     utils.Clock
	logger    *zap.Logger
	cost      int
	dummyHash []byte
}

// NewPersonService hashes with the given bcrypt cost; zero selects
// bcrypt.DefaultCost.
func NewPersonService(repo PersonRepository, clock utils.Clock, logger *zap.Logger, cost int) (PersonService, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	// Compared against when the email is unknown so both failure paths
	// spend the same bcrypt work.
	dummy, err := bcrypt.GenerateFromPassword([]byte("no-such-person-placeholder"), cost)
	if err != nil {
		return nil, err
	}
	return &personService{
		repo:      repo,
		clock:     clock,
		logger:    logger,
		cost:      cost,
		dummyHash: dummy,
	}, nil
}

func (s *personService) CreatePerson(ctx context.Context, name, email, password string) (*Person, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, ErrInvalidName
	}
	if _, err := mail.ParseAddress(email); err != nil {
		s.logger.Warn("invalid email format", zap.String("email", email))
		return nil, ErrInvalidEmailFormat
	}
	if err := CheckPassword(password); err != nil {
		s.logger.Warn("password rejected by policy", zap.Error(err))
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.logger.Error("failed to hash password", zap.Error(err))
		return nil, ErrHashingPasswordFailed
	}

	person := NewPerson(name, email, string(hashed), s.clock.Now())
	if err := s.repo.Create(ctx, person); err != nil {
		s.logger.Error("failed to create person in repository", zap.Error(err))
		return nil, err
	}
	s.logger.Info("person created", zap.Uint("id", person.ID))
	return person, nil
}

func (s *personService) Verify(ctx context.Context, email, password string) (*Person, error) {
	person, err := s.repo.ReadByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrPersonNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.logger.Debug("sign-in for unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("failed to read person by email", zap.Error(err))
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(person.Password), []byte(password)) != nil {
		s.logger.Debug("sign-in with wrong password", zap.Uint("id", person.ID))
		return nil, ErrInvalidCredentials
	}

	now := s.clock.Now()
	if err := s.repo.TouchLastSeen(ctx, person.ID, now); err != nil {
		s.logger.Warn("failed to update last seen", zap.Uint("id", person.ID), zap.Error(err))
	} else {
		person.LastSeen = now
	}
	return person, nil
}

func (s *personService) ReadPersonByID(ctx context.Context, id uint) (*Person, error) {
	person, err := s.repo.ReadByID(ctx, id)
	if err != nil {
		s.logger.Warn("failed to get person by ID", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	return person, nil
}
