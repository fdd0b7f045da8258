package authentication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/refreshtoken"
	"github.com/mehmetcc/session-token-service/internal/token"
	"github.com/mehmetcc/session-token-service/internal/utils"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePeople struct {
	mu        sync.Mutex
	byID      map[uint]*person.Person
	passwords map[uint]string
}

func newFakePeople() *fakePeople {
	return &fakePeople{byID: map[uint]*person.Person{}, passwords: map[uint]string{}}
}

func (f *fakePeople) add(id uint, email, password string, role person.Role) *person.Person {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &person.Person{Name: "Person " + email, Email: email, Role: role}
	p.ID = id
	f.byID[id] = p
	f.passwords[id] = password
	return p
}

func (f *fakePeople) remove(id uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

func (f *fakePeople) Verify(_ context.Context, email, password string) (*person.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.byID {
		if p.Email == email && f.passwords[id] == password {
			out := *p
			return &out, nil
		}
	}
	return nil, person.ErrInvalidCredentials
}

func (f *fakePeople) ReadPersonByID(_ context.Context, id uint) (*person.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, person.ErrPersonNotFound
	}
	out := *p
	return &out, nil
}

// countingRepository records how often the engine persisted a token.
type countingRepository struct {
	refreshtoken.RecordRepository
	mu    sync.Mutex
	saves int
}

func (c *countingRepository) Save(ctx context.Context, record *refreshtoken.RefreshTokenRecord) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.RecordRepository.Save(ctx, record)
}

func (c *countingRepository) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

type fixture struct {
	clock   *utils.ManualClock
	codec   *token.Codec
	records *countingRepository
	engine  *refreshtoken.Engine
	people  *fakePeople
	service AuthenticationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := utils.NewManualClock(epoch)
	codec, err := token.NewCodec([]byte(testSecret), "test-issuer", clock, zap.NewNop())
	require.NoError(t, err)

	records := &countingRepository{RecordRepository: refreshtoken.NewMemoryRepository(clock)}
	engine := refreshtoken.NewEngine(records, clock, zap.NewNop(), nil, time.Second)
	people := newFakePeople()
	people.add(1, "ada@example.com", "s3cret!pass", person.Member)
	people.add(2, "root@example.com", "r00t!pass", person.Admin)

	return &fixture{
		clock:   clock,
		codec:   codec,
		records: records,
		engine:  engine,
		people:  people,
		service: NewAuthenticationService(people, people, codec, engine, zap.NewNop(), accessTTL, refreshTTL),
	}
}
