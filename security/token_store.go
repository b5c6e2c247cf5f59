package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// expiryLeeway treats tokens this close to expiry as already expired.
const expiryLeeway = time.Minute

// TokenInfo is the stored form of a backend access token.
type TokenInfo struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry"`
	ClientID    string    `json:"client_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenStore caches client-credentials tokens in Redis so every replica
// shares one token per client instead of minting its own.
type TokenStore struct {
	redisClient *redis.Client
}

// NewTokenStore creates a new token store
func NewTokenStore(redisClient *redis.Client) *TokenStore {
	return &TokenStore{redisClient: redisClient}
}

func tokenKey(clientID string) string {
	return fmt.Sprintf("embed:backend_token:%s", clientID)
}

// StoreToken stores a token until its expiry.
func (ts *TokenStore) StoreToken(ctx context.Context, clientID string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	ttl := time.Until(token.Expiry)
	if token.Expiry.IsZero() {
		ttl = 0
	} else if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(&TokenInfo{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
		ClientID:    clientID,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token info: %w", err)
	}

	if err := ts.redisClient.Set(ctx, tokenKey(clientID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}

// GetToken returns the cached token, or nil when there is none.
func (ts *TokenStore) GetToken(ctx context.Context, clientID string) (*oauth2.Token, error) {
	data, err := ts.redisClient.Get(ctx, tokenKey(clientID)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve token: %w", err)
	}

	var info TokenInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token info: %w", err)
	}

	return &oauth2.Token{
		AccessToken: info.AccessToken,
		TokenType:   info.TokenType,
		Expiry:      info.Expiry,
	}, nil
}

// DeleteToken drops the cached token for a client.
func (ts *TokenStore) DeleteToken(ctx context.Context, clientID string) error {
	if err := ts.redisClient.Del(ctx, tokenKey(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// cachedSource serves tokens from the store and falls back to the upstream
// source when the cached one is missing or about to expire.
type cachedSource struct {
	ctx      context.Context
	store    *TokenStore
	clientID string
	upstream oauth2.TokenSource
}

func (s *cachedSource) Token() (*oauth2.Token, error) {
	if s.store != nil {
		cached, err := s.store.GetToken(s.ctx, s.clientID)
		if err != nil {
			log.Printf("security: token cache read failed for %s: %v", s.clientID, err)
		} else if cached != nil && (cached.Expiry.IsZero() || cached.Expiry.After(time.Now().Add(expiryLeeway))) {
			return cached, nil
		}
	}

	token, err := s.upstream.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain backend token: %w", err)
	}

	if s.store != nil {
		if err := s.store.StoreToken(s.ctx, s.clientID, token); err != nil {
			log.Printf("security: token cache write failed for %s: %v", s.clientID, err)
		}
	}
	return token, nil
}
