package authentication

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetcc/session-token-service/internal/person"
	"github.com/mehmetcc/session-token-service/internal/refreshtoken"
	"github.com/mehmetcc/session-token-service/internal/token"
)

const TokenTypeBearer = "Bearer"

// CredentialVerifier checks an email/password pair. Mismatches must come
// back as person.ErrInvalidCredentials.
type CredentialVerifier interface {
	Verify(ctx context.Context, email, password string) (*person.Person, error)
}

// IdentityLookup loads the identity behind a token subject.
type IdentityLookup interface {
	ReadPersonByID(ctx context.Context, id uint) (*person.Person, error)
}

// Session is the token bundle handed to a client after sign-in or refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	FamilyID  string
	Identity  *person.Person
}

type AuthenticationService interface {
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, refreshToken string) error
}

type authenticationService struct {
	verifier   CredentialVerifier
	identities IdentityLookup
	codec      *token.Codec
	engine     *refreshtoken.Engine
	logger     *zap.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewAuthenticationService(
	verifier CredentialVerifier,
	identities IdentityLookup,
	codec *token.Codec,
	engine *refreshtoken.Engine,
	logger *zap.Logger,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) AuthenticationService {
	return &authenticationService{
		verifier:   verifier,
		identities: identities,
		codec:      codec,
		engine:     engine,
		logger:     logger,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (a *authenticationService) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	identity, err := a.verifier.Verify(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	access, refresh, refreshExp, err := a.mint(identity)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	record, err := a.engine.IssueInitial(ctx, identity.ID, refresh, refreshExp)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	a.logger.Info("session started",
		zap.Uint("user_id", identity.ID),
		zap.String("family_id", record.FamilyID),
	)
	return a.session(identity, access, refresh, record.FamilyID), nil
}

func (a *authenticationService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if _, err := a.decodeRefresh(refreshToken); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	rotated, err := a.engine.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	identity, err := a.identities.ReadPersonByID(ctx, rotated.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	access, refresh, refreshExp, err := a.mint(identity)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if _, err := a.engine.IssueInFamily(ctx, rotated.FamilyID, identity.ID, refresh, refreshExp); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return a.session(identity, access, refresh, rotated.FamilyID), nil
}

func (a *authenticationService) Logout(ctx context.Context, refreshToken string) error {
	if _, err := a.decodeRefresh(refreshToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := a.engine.Release(ctx, refreshToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// decodeRefresh rejects anything that is not a genuine refresh token before
// the store is consulted. Expiry is left to the engine: a consumed token
// replayed after it expired must still revoke its family.
func (a *authenticationService) decodeRefresh(refreshToken string) (*token.Principal, error) {
	return a.codec.DecodeForRotation(refreshToken)
}

func (a *authenticationService) mint(identity *person.Person) (access, refresh string, refreshExp time.Time, err error) {
	access, err = a.codec.Issue(token.KindAccess, identity.ID, identity.Email, string(identity.Role), a.accessTTL)
	if err != nil {
		return "", "", time.Time{}, err
	}
	refresh, err = a.codec.Issue(token.KindRefresh, identity.ID, identity.Email, string(identity.Role), a.refreshTTL)
	if err != nil {
		return "", "", time.Time{}, err
	}
	refreshExp, err = a.codec.ExpiryOf(refresh)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return access, refresh, refreshExp, nil
}

func (a *authenticationService) session(identity *person.Person, access, refresh, familyID string) *Session {
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(a.accessTTL / time.Second),
		FamilyID:     familyID,
		Identity:     identity,
	}
}
