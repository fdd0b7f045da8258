package authentication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/refreshtoken"
	"github.com/mehmetcc/session-token-service/internal/token"
)

func TestAuthenticateIssuesPair(t *testing.T) {
	f := newFixture(t)

	s, err := f.service.Authenticate(context.Background(), "ada@example.com", "s3cret!pass")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", s.TokenType)
	assert.Equal(t, int64(900), s.ExpiresIn)
	assert.Equal(t, uint(1), s.Identity.ID)
	assert.Len(t, s.FamilyID, 26)

	access, err := f.codec.Decode(s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, token.KindAccess, access.Kind)
	assert.Equal(t, "member", access.Role)
	assert.Equal(t, epoch.Add(accessTTL), access.ExpiresAt)

	refresh, err := f.codec.Decode(s.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, token.KindRefresh, refresh.Kind)

	lineage, err := f.engine.Lineage(context.Background(), s.FamilyID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.Equal(t, refreshtoken.Digest(s.RefreshToken), lineage[0].Token)
	assert.Equal(t, refresh.ExpiresAt, lineage[0].ExpiresAt)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Authenticate(context.Background(), "ada@example.com", "nope")
	assert.ErrorIs(t, err, person.ErrInvalidCredentials)

	_, err = f.service.Authenticate(context.Background(), "ghost@example.com", "s3cret!pass")
	assert.ErrorIs(t, err, person.ErrInvalidCredentials)

	assert.Zero(t, f.records.saveCount(), "no refresh token may be persisted")
}

func TestRefreshRotatesWithinFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Authenticate(ctx, "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, first.FamilyID, second.FamilyID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, uint(1), second.Identity.ID)

	third, err := f.service.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, first.FamilyID, third.FamilyID)
}

func TestRefreshReplayBurnsFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Authenticate(ctx, "ada@example.com", "s3cret!pass")
	require.NoError(t, err)
	second, err := f.service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.service.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = f.service.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	// A fresh sign-in starts an unaffected family.
	other, err := f.service.Authenticate(ctx, "ada@example.com", "s3cret!pass")
	require.NoError(t, err)
	assert.NotEqual(t, first.FamilyID, other.FamilyID)
	_, err = f.service.Refresh(ctx, other.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	s, err := f.service.Authenticate(context.Background(), "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	_, err = f.service.Refresh(context.Background(), s.AccessToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	// The refresh token is untouched by the rejected attempt.
	_, err = f.service.Refresh(context.Background(), s.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newFixture(t)
	s, err := f.service.Authenticate(context.Background(), "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	f.clock.Advance(refreshTTL)
	_, err = f.service.Refresh(context.Background(), s.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	lineage, err := f.engine.Lineage(context.Background(), s.FamilyID)
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.False(t, lineage[0].IsRevoked, "an expired token is rejected, not consumed")
	assert.False(t, lineage[0].Compromised)
}

func TestRefreshReplayAfterExpiryBurnsFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Authenticate(ctx, "ada@example.com", "s3cret!pass")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	// first has expired by now, second has not.
	f.clock.Set(epoch.Add(refreshTTL + 30*time.Second))
	_, err = f.service.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	lineage, err := f.engine.Lineage(ctx, first.FamilyID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	for _, record := range lineage {
		assert.True(t, record.IsRevoked)
		assert.True(t, record.Compromised)
	}
	assert.Equal(t, refreshtoken.ReasonCompromised, lineage[1].RevokedReason)

	_, err = f.service.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestLogoutReplayAfterExpiryBurnsFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Authenticate(ctx, "ada@example.com", "s3cret!pass")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.service.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	f.clock.Set(epoch.Add(refreshTTL + 30*time.Second))
	assert.ErrorIs(t, f.service.Logout(ctx, first.RefreshToken), token.ErrInvalidToken)

	_, err = f.service.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestRefreshForRemovedIdentity(t *testing.T) {
	f := newFixture(t)
	s, err := f.service.Authenticate(context.Background(), "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	f.people.remove(1)
	_, err = f.service.Refresh(context.Background(), s.RefreshToken)
	assert.ErrorIs(t, err, person.ErrPersonNotFound)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.service.Authenticate(ctx, "ada@example.com", "s3cret!pass")
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.Logout(ctx, s.AccessToken), token.ErrInvalidToken)
	require.NoError(t, f.service.Logout(ctx, s.RefreshToken))

	_, err = f.service.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}
