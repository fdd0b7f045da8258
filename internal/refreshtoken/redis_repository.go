package refreshtoken

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mehmetcc/session-token-service/internal/utils"
)

// Key layout, all under one prefix:
//
//	<prefix>:rec:<digest>        hash, one per record
//	<prefix>:family:<id>         set of digests in the family
//	<prefix>:family:<id>:burned  present once the family is compromised
//	<prefix>:seq                 record id counter
//
// Scripts touch keys derived from ARGV, so the layout needs a single node
// or a sentinel deployment rather than a cluster.
const defaultKeyPrefix = "rt"

var saveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
  return -1
end
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local id = redis.call("INCR", KEYS[4])
redis.call("HSET", KEYS[1],
  "id", id,
  "user_id", ARGV[2],
  "token", ARGV[1],
  "family_id", ARGV[3],
  "is_revoked", "0",
  "revoked_reason", "",
  "compromised", "0",
  "expires_at", ARGV[4],
  "created_at", ARGV[5],
  "updated_at", ARGV[5])
redis.call("SADD", KEYS[2], ARGV[1])
return id
`)

var markRevokedScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "is_revoked") == "0" then
  redis.call("HSET", KEYS[1], "is_revoked", "1", "revoked_reason", ARGV[1], "updated_at", ARGV[2])
  return 1
end
return 0
`)

var revokeFamilyScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
if #members == 0 then
  return 0
end
redis.call("SET", KEYS[2], "1")
local revoked = 0
for _, digest in ipairs(members) do
  local key = ARGV[1] .. digest
  if redis.call("HGET", key, "is_revoked") == "0" then
    redis.call("HSET", key, "is_revoked", "1", "revoked_reason", ARGV[3])
    revoked = revoked + 1
  end
  redis.call("HSET", key, "compromised", "1", "updated_at", ARGV[2])
end
return revoked
`)

type redisRepository struct {
	client redis.UniversalClient
	clock  utils.Clock
	prefix string
}

// NewRedisRepository stores records as Redis hashes. State transitions run
// as Lua scripts so each one is atomic on the server.
func NewRedisRepository(client redis.UniversalClient, clock utils.Clock, prefix string) RecordRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &redisRepository{client: client, clock: clock, prefix: prefix}
}

func (r *redisRepository) recordKey(digest string) string {
	return r.prefix + ":rec:" + digest
}

func (r *redisRepository) familyKey(familyID string) string {
	return r.prefix + ":family:" + familyID
}

func (r *redisRepository) burnedKey(familyID string) string {
	return r.familyKey(familyID) + ":burned"
}

func (r *redisRepository) Save(ctx context.Context, record *RefreshTokenRecord) error {
	now := r.clock.Now()
	keys := []string{
		r.recordKey(record.Token),
		r.familyKey(record.FamilyID),
		r.burnedKey(record.FamilyID),
		r.prefix + ":seq",
	}
	id, err := saveScript.Run(ctx, r.client, keys,
		record.Token,
		record.UserID,
		record.FamilyID,
		record.ExpiresAt.UnixNano(),
		now.UnixNano(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}

	switch {
	case id < 0:
		return ErrFamilyCompromised
	case id == 0:
		existing, err := r.FindByToken(ctx, record.Token)
		if err != nil {
			return err
		}
		*record = *existing
	default:
		record.ID = uint(id)
		record.CreatedAt = now
		record.UpdatedAt = now
	}
	return nil
}

func (r *redisRepository) FindByToken(ctx context.Context, digest string) (*RefreshTokenRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(digest)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}
	if len(fields) == 0 {
		return nil, ErrRecordNotFoundByGivenToken
	}
	return decodeRecord(fields)
}

func (r *redisRepository) FindAllByFamily(ctx context.Context, familyID string) ([]RefreshTokenRecord, error) {
	digests, err := r.client.SMembers(ctx, r.familyKey(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(digests))
	for i, d := range digests {
		cmds[i] = pipe.HGetAll(ctx, r.recordKey(d))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}

	records := make([]RefreshTokenRecord, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	sortByID(records)
	return records, nil
}

func (r *redisRepository) MarkRevoked(ctx context.Context, record *RefreshTokenRecord, reason RevokeReason) (bool, error) {
	changed, err := markRevokedScript.Run(ctx, r.client,
		[]string{r.recordKey(record.Token)},
		string(reason),
		r.clock.Now().UnixNano(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}
	if changed == 0 {
		return false, nil
	}
	record.IsRevoked = true
	record.RevokedReason = reason
	return true, nil
}

func (r *redisRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	revoked, err := revokeFamilyScript.Run(ctx, r.client,
		[]string{r.familyKey(familyID), r.burnedKey(familyID)},
		r.prefix+":rec:",
		r.clock.Now().UnixNano(),
		string(ReasonCompromised),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnresponsiveDatabase, err)
	}
	return revoked, nil
}

func decodeRecord(fields map[string]string) (*RefreshTokenRecord, error) {
	id, err := strconv.ParseUint(fields["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed id: %w", ErrUnresponsiveDatabase, err)
	}
	userID, err := strconv.ParseUint(fields["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user_id: %w", ErrUnresponsiveDatabase, err)
	}
	expiresAt, err := parseNanos(fields["expires_at"])
	if err != nil {
		return nil, err
	}
	createdAt, err := parseNanos(fields["created_at"])
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseNanos(fields["updated_at"])
	if err != nil {
		return nil, err
	}

	rec := &RefreshTokenRecord{
		UserID:        uint(userID),
		Token:         fields["token"],
		FamilyID:      fields["family_id"],
		IsRevoked:     fields["is_revoked"] == "1",
		RevokedReason: RevokeReason(fields["revoked_reason"]),
		Compromised:   fields["compromised"] == "1",
		ExpiresAt:     expiresAt,
	}
	rec.ID = uint(id)
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return rec, nil
}

func parseNanos(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed timestamp: %w", ErrUnresponsiveDatabase, err)
	}
	return time.Unix(0, n).UTC(), nil
}
