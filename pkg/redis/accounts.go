// Package redis provides the optional write-through mirror of the Account
// Pool. accounts.json remains the source of truth; AccountStore exists so
// an operator running a shared Redis instance can inspect account state
// (email, enabled/status, project id) without reading the proxy's local
// filesystem.
package redis

import (
	"context"
	"fmt"
	"time"
)

// Account is the mirrored shape of one account.Account, trimmed to the
// fields worth exposing outside the process that owns accounts.json.
type Account struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	Enabled      bool   `json:"enabled"`
	IsInvalid    bool   `json:"isInvalid"`
	Status       string `json:"status"`
	LastUsed     int64  `json:"lastUsed,omitempty"`
}

// AccountStore mirrors Account Pool state into Redis.
type AccountStore struct {
	client *Client
}

// NewAccountStore creates an AccountStore. A nil client yields a store
// whose methods are no-ops, so callers don't need to branch on whether
// Redis is configured.
func NewAccountStore(client *Client) *AccountStore {
	return &AccountStore{client: client}
}

// IsAvailable reports whether the underlying Redis client is connected.
func (s *AccountStore) IsAvailable() bool {
	return s != nil && s.client != nil
}

// SetAccount mirrors one account's current state.
func (s *AccountStore) SetAccount(ctx context.Context, account *Account) error {
	if !s.IsAvailable() {
		return nil
	}
	key := PrefixAccounts + account.Email
	values := map[string]interface{}{
		"email":     account.Email,
		"enabled":   fmt.Sprintf("%t", account.Enabled),
		"isInvalid": fmt.Sprintf("%t", account.IsInvalid),
		"status":    account.Status,
	}
	if account.RefreshToken != "" {
		values["refreshToken"] = account.RefreshToken
	}
	if account.ProjectID != "" {
		values["projectId"] = account.ProjectID
	}
	if account.LastUsed > 0 {
		values["lastUsed"] = time.UnixMilli(account.LastUsed).Format(time.RFC3339)
	}
	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}
	return s.client.SAdd(ctx, PrefixAccountIndex, account.Email)
}

// GetAccount retrieves a mirrored account, or nil if not present.
func (s *AccountStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	if !s.IsAvailable() {
		return nil, nil
	}
	key := PrefixAccounts + email
	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	account := &Account{Email: email}
	if v, ok := data["enabled"]; ok {
		account.Enabled = v == "true"
	}
	if v, ok := data["isInvalid"]; ok {
		account.IsInvalid = v == "true"
	}
	if v, ok := data["status"]; ok {
		account.Status = v
	}
	if v, ok := data["refreshToken"]; ok {
		account.RefreshToken = v
	}
	if v, ok := data["projectId"]; ok {
		account.ProjectID = v
	}
	if v, ok := data["lastUsed"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			account.LastUsed = t.UnixMilli()
		}
	}
	return account, nil
}

// DeleteAccount removes a mirrored account.
func (s *AccountStore) DeleteAccount(ctx context.Context, email string) error {
	if !s.IsAvailable() {
		return nil
	}
	if err := s.client.Delete(ctx, PrefixAccounts+email); err != nil {
		return err
	}
	return s.client.SRem(ctx, PrefixAccountIndex, email)
}

// ListAccounts returns every mirrored account.
func (s *AccountStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	if !s.IsAvailable() {
		return nil, nil
	}
	emails, err := s.client.SMembers(ctx, PrefixAccountIndex)
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(emails))
	for _, email := range emails {
		account, err := s.GetAccount(ctx, email)
		if err != nil {
			continue
		}
		if account != nil {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}
