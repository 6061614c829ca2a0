package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// RefreshTokenStore keeps refresh tokens in memory.
type RefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.RefreshToken
}

// NewRefreshTokenStore creates a new RefreshTokenStore.
func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{tokens: make(map[string]domain.RefreshToken)}
}

func (s *RefreshTokenStore) CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("refresh token %s already exists", token.ID)
	}
	s.tokens[token.ID] = *token
	return nil
}

func (s *RefreshTokenStore) GetRefreshTokenByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &token, nil
}

func (s *RefreshTokenStore) RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok || token.RevokedAt != nil {
		return false, nil
	}
	token.RevokedAt = &at
	token.RevokedReason = reason
	s.tokens[id] = token
	return true, nil
}

func (s *RefreshTokenStore) MarkRefreshTokenReplaced(ctx context.Context, id, replacedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return serrors.ErrNotFound
	}
	token.ReplacedBy = replacedBy
	s.tokens[id] = token
	return nil
}

func (s *RefreshTokenStore) TouchRefreshTokenUsage(ctx context.Context, id string, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return serrors.ErrNotFound
	}
	token.LastUsedAt = &at
	token.LastUsedIP = ip
	s.tokens[id] = token
	return nil
}

func (s *RefreshTokenStore) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, token := range s.tokens {
		if token.FamilyID != familyID || token.RevokedAt != nil {
			continue
		}
		token.RevokedAt = &at
		token.RevokedReason = reason
		s.tokens[id] = token
		n++
	}
	return n, nil
}

func (s *RefreshTokenStore) CountActiveInFamily(ctx context.Context, familyID string, now time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, token := range s.tokens {
		if token.FamilyID == familyID && token.RevokedAt == nil && now.Before(token.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) ListSessionRefreshTokens(ctx context.Context, sessionID string) ([]*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.RefreshToken
	for _, token := range s.tokens {
		if token.SessionID == sessionID {
			token := token
			out = append(out, &token)
		}
	}
	return out, nil
}

func (s *RefreshTokenStore) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, token := range s.tokens {
		if !token.ExpiresAt.After(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// AuthCodeStore keeps authorization codes in memory.
type AuthCodeStore struct {
	mu    sync.RWMutex
	codes map[string]domain.AuthCode
}

// NewAuthCodeStore creates a new AuthCodeStore.
func NewAuthCodeStore() *AuthCodeStore {
	return &AuthCodeStore{codes: make(map[string]domain.AuthCode)}
}

func (s *AuthCodeStore) CreateAuthCode(ctx context.Context, code *domain.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[code.ID]; exists {
		return fmt.Errorf("authorization code %s already exists", code.ID)
	}
	s.codes[code.ID] = *code
	return nil
}

func (s *AuthCodeStore) GetAuthCodeByID(ctx context.Context, id string) (*domain.AuthCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.codes[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &code, nil
}

func (s *AuthCodeStore) ConsumeAuthCode(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[id]; !ok {
		return false, nil
	}
	delete(s.codes, id)
	return true, nil
}

func (s *AuthCodeStore) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, code := range s.codes {
		if !code.ExpiresAt.After(before) {
			delete(s.codes, id)
			n++
		}
	}
	return n, nil
}

// LoginTokenStore keeps one-shot login tokens in memory.
type LoginTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.LoginToken
}

// NewLoginTokenStore creates a new LoginTokenStore.
func NewLoginTokenStore() *LoginTokenStore {
	return &LoginTokenStore{tokens: make(map[string]domain.LoginToken)}
}

func (s *LoginTokenStore) CreateLoginToken(ctx context.Context, token *domain.LoginToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("login token %s already exists", token.ID)
	}
	s.tokens[token.ID] = *token
	return nil
}

func (s *LoginTokenStore) GetLoginTokenByID(ctx context.Context, id string) (*domain.LoginToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &token, nil
}

func (s *LoginTokenStore) ConsumeLoginToken(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return false, nil
	}
	delete(s.tokens, id)
	return true, nil
}

func (s *LoginTokenStore) DeleteExpiredLoginTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, token := range s.tokens {
		if !token.ExpiresAt.After(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// PATStore keeps personal access tokens in memory.
type PATStore struct {
	mu   sync.RWMutex
	pats map[string]domain.PersonalAccessToken
}

// NewPATStore creates a new PATStore.
func NewPATStore() *PATStore {
	return &PATStore{pats: make(map[string]domain.PersonalAccessToken)}
}

func (s *PATStore) CreatePAT(ctx context.Context, pat *domain.PersonalAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pats[pat.ID]; exists {
		return fmt.Errorf("personal access token %s already exists", pat.ID)
	}
	s.pats[pat.ID] = *pat
	return nil
}

func (s *PATStore) GetPATByID(ctx context.Context, id string) (*domain.PersonalAccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pat, ok := s.pats[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &pat, nil
}

func (s *PATStore) ListUserPATs(ctx context.Context, userID string) ([]*domain.PersonalAccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.PersonalAccessToken
	for _, pat := range s.pats {
		if pat.UserID == userID {
			pat := pat
			out = append(out, &pat)
		}
	}
	return out, nil
}

func (s *PATStore) RevokePAT(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pat, ok := s.pats[id]
	if !ok || pat.RevokedAt != nil {
		return false, nil
	}
	pat.RevokedAt = &at
	s.pats[id] = pat
	return true, nil
}

func (s *PATStore) TouchPATUsage(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pat, ok := s.pats[id]
	if !ok {
		return serrors.ErrNotFound
	}
	pat.LastUsedAt = &at
	s.pats[id] = pat
	return nil
}
