package person

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mehmetcc/session-token-service/internal/utils"
)

type fakeRepository struct {
	mu      sync.Mutex
	byID    map[uint]*Person
	nextID  uint
	touched map[uint]time.Time
	failAll error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byID: map[uint]*Person{}, touched: map[uint]time.Time{}}
}

func (f *fakeRepository) Create(_ context.Context, p *Person) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == p.Email {
			return ErrEmailAlreadyExists
		}
	}
	f.nextID++
	p.ID = f.nextID
	stored := *p
	f.byID[p.ID] = &stored
	return nil
}

func (f *fakeRepository) ReadByEmail(_ context.Context, email string) (*Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	for _, p := range f.byID {
		if p.Email == email {
			out := *p
			return &out, nil
		}
	}
	return nil, ErrPersonNotFound
}

func (f *fakeRepository) ReadByID(_ context.Context, id uint) (*Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, ErrPersonNotFound
	}
	out := *p
	return &out, nil
}

func (f *fakeRepository) TouchLastSeen(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	return nil
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (PersonService, *fakeRepository, *utils.ManualClock) {
	t.Helper()
	repo := newFakeRepository()
	clock := utils.NewManualClock(epoch)
	svc, err := NewPersonService(repo, clock, zap.NewNop(), bcrypt.MinCost)
	require.NoError(t, err)
	return svc, repo, clock
}

func TestCreatePerson(t *testing.T) {
	svc, repo, _ := newTestService(t)

	p, err := svc.CreatePerson(context.Background(), "  Ada  ", "Ada@Example.com", "s3cret!pass")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, Member, p.Role)
	assert.NotEqual(t, "s3cret!pass", p.Password)
	assert.Contains(t, repo.byID, p.ID)

	_, err = svc.CreatePerson(context.Background(), "Ada", "ada@example.com", "s3cret!pass")
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestCreatePersonRejectsInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := []struct {
		name, person, email, password string
		want                          error
	}{
		{"blank name", " ", "a@example.com", "s3cret!pass", ErrInvalidName},
		{"bad email", "Ada", "not-an-email", "s3cret!pass", ErrInvalidEmailFormat},
		{"short password", "Ada", "a@example.com", "a1!", ErrPasswordTooShort},
		{"no digit", "Ada", "a@example.com", "secret!pass", ErrPasswordNotAlphanumeric},
		{"no special", "Ada", "a@example.com", "s3cretpass", ErrPasswordDoesNotHaveSpecialCharacter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePerson(context.Background(), tc.person, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerify(t *testing.T) {
	svc, repo, clock := newTestService(t)
	created, err := svc.CreatePerson(context.Background(), "Ada", "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	p, err := svc.Verify(context.Background(), "ada@example.com", "s3cret!pass")
	require.NoError(t, err)
	assert.Equal(t, created.ID, p.ID)
	assert.Equal(t, epoch.Add(time.Hour), p.LastSeen)
	assert.Equal(t, epoch.Add(time.Hour), repo.touched[created.ID])

	_, err = svc.Verify(context.Background(), "ada@example.com", "wrong!pass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Verify(context.Background(), "nobody@example.com", "s3cret!pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyPropagatesStoreFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failAll = ErrUnresponsiveDatabase

	_, err := svc.Verify(context.Background(), "ada@example.com", "s3cret!pass")
	assert.True(t, errors.Is(err, ErrUnresponsiveDatabase))
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestReadPersonByID(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePerson(context.Background(), "Ada", "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	p, err := svc.ReadPersonByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)

	_, err = svc.ReadPersonByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrPersonNotFound)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, Admin.Valid())
	assert.True(t, Member.Valid())
	assert.False(t, Role("user").Valid())
	assert.False(t, Role("").Valid())
}
