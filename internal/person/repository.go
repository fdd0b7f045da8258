package person

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

var (
	ErrEmailAlreadyExists   = errors.New("email already exists")
	ErrPersonNotFound       = errors.New("person not found")
	ErrPersonNotCreated     = errors.New("person not created")
	ErrUnresponsiveDatabase = errors.New("error occurred during access to persons table")
)

type PersonRepository interface {
	Create(ctx context.Context, person *Person) error
	ReadByEmail(ctx context.Context, email string) (*Person, error)
	ReadByID(ctx context.Context, id uint) (*Person, error)
	TouchLastSeen(ctx context.Context, id uint, at time.Time) error
}

type personRepository struct {
	db *gorm.DB
}

func NewPersonRepository(db *gorm.DB) PersonRepository {
	return &personRepository{db: db}
}

func (p *personRepository) Create(ctx context.Context, person *Person) error {
	err := p.db.WithContext(ctx).Create(person).Error
	if err != nil {
		if isEmailConflict(err) {
			return ErrEmailAlreadyExists
		}
		return ErrPersonNotCreated
	}
	return nil
}

func (p *personRepository) ReadByID(ctx context.Context, id uint) (*Person, error) {
	var person Person
	err := p.db.WithContext(ctx).First(&person, id).Error
	return found(&person, err)
}

func (p *personRepository) ReadByEmail(ctx context.Context, email string) (*Person, error) {
	var person Person
	err := p.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(email)).
		First(&person).
		Error
	return found(&person, err)
}

func (p *personRepository) TouchLastSeen(ctx context.Context, id uint, at time.Time) error {
	err := p.db.WithContext(ctx).
		Model(&Person{}).
		Where("id = ?", id).
		UpdateColumn("last_seen", at).
		Error
	if err != nil {
		return ErrUnresponsiveDatabase
	}
	return nil
}

func found(person *Person, err error) (*Person, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, ErrUnresponsiveDatabase
	}
	return person, nil
}

func isEmailConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgUniqueViolation &&
		strings.Contains(pgErr.ConstraintName, "email")
}
