package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	apiKeyPrefix    = "profiler:apikey:"
	apiKeySecretLen = 32
)

// APIKeyStore stores and validates API keys
type APIKeyStore interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error)
	CreateKey(ctx context.Context, info APIKeyInfo) (string, error)
	RevokeKey(ctx context.Context, keyID string) error
	ListKeys(ctx context.Context, ownerID string) ([]APIKeyInfo, error)
}

// APIKeyInfo contains metadata about an API key
type APIKeyInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyHash   string `json:"key_hash,omitempty"` // SHA-256 of the key
	OwnerID   string `json:"owner_id"`
	Role      Role   `json:"role"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // 0 = never expires
}

// RedisAPIKeyStore keeps key metadata in Redis, indexed by key hash, by id
// and by owner. Plaintext keys are never stored.
type RedisAPIKeyStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisAPIKeyStore creates a new Redis-backed API key store
func NewRedisAPIKeyStore(client redis.UniversalClient) *RedisAPIKeyStore {
	return &RedisAPIKeyStore{client: client, now: time.Now}
}

func hashKeyName(hash string) string   { return apiKeyPrefix + hash }
func idKeyName(id string) string       { return apiKeyPrefix + "id:" + id }
func ownerKeyName(owner string) string { return apiKeyPrefix + "owner:" + owner }

// ValidateKey checks if an API key is valid and returns its info
func (s *RedisAPIKeyStore) ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error) {
	data, err := s.client.Get(ctx, hashKeyName(hashKey(key))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to lookup key: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key info: %w", err)
	}

	if info.ExpiresAt > 0 && info.ExpiresAt < s.now().Unix() {
		return nil, ErrExpiredToken
	}
	return &info, nil
}

// CreateKey stores a new API key and returns the plaintext key (only shown once)
func (s *RedisAPIKeyStore) CreateKey(ctx context.Context, info APIKeyInfo) (string, error) {
	if _, ok := RoleHierarchy[info.Role]; !ok {
		return "", fmt.Errorf("unknown role %q", info.Role)
	}

	secret := make([]byte, apiKeySecretLen)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	plainKey := "pk_" + hex.EncodeToString(secret)

	info.KeyHash = hashKey(plainKey)
	info.CreatedAt = s.now().Unix()
	if info.ID == "" {
		idBytes := make([]byte, 8)
		if _, err := rand.Read(idBytes); err != nil {
			return "", fmt.Errorf("failed to generate key id: %w", err)
		}
		info.ID = "key_" + hex.EncodeToString(idBytes)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key info: %w", err)
	}

	// Redis expiry mirrors ExpiresAt so stale keys clean themselves up.
	var ttl time.Duration
	if info.ExpiresAt > 0 {
		ttl = time.Until(time.Unix(info.ExpiresAt, 0))
		if ttl <= 0 {
			return "", fmt.Errorf("expiry %d is in the past", info.ExpiresAt)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, hashKeyName(info.KeyHash), data, ttl)
	pipe.Set(ctx, idKeyName(info.ID), info.KeyHash, ttl)
	pipe.SAdd(ctx, ownerKeyName(info.OwnerID), info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store key: %w", err)
	}

	return plainKey, nil
}

// RevokeKey removes an API key
func (s *RedisAPIKeyStore) RevokeKey(ctx context.Context, keyID string) error {
	keyHash, err := s.client.Get(ctx, idKeyName(keyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to lookup key: %w", err)
	}

	var owner string
	if data, err := s.client.Get(ctx, hashKeyName(keyHash)).Bytes(); err == nil {
		var info APIKeyInfo
		if json.Unmarshal(data, &info) == nil {
			owner = info.OwnerID
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, hashKeyName(keyHash), idKeyName(keyID))
	if owner != "" {
		pipe.SRem(ctx, ownerKeyName(owner), keyID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	return nil
}

// ListKeys returns all live keys for an owner without their hashes.
func (s *RedisAPIKeyStore) ListKeys(ctx context.Context, ownerID string) ([]APIKeyInfo, error) {
	keyIDs, err := s.client.SMembers(ctx, ownerKeyName(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []APIKeyInfo
	for _, keyID := range keyIDs {
		keyHash, err := s.client.Get(ctx, idKeyName(keyID)).Result()
		if err != nil {
			// Expired; drop the dangling index entry.
			s.client.SRem(ctx, ownerKeyName(ownerID), keyID)
			continue
		}

		data, err := s.client.Get(ctx, hashKeyName(keyHash)).Bytes()
		if err != nil {
			continue
		}

		var info APIKeyInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		info.KeyHash = ""
		keys = append(keys, info)
	}
	return keys, nil
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
