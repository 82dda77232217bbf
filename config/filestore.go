package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rocisdk/agentcore/errs"
)

// fileToken is the on-disk representation of one Token, per spec.md §6's
// persisted token store format.
type fileToken struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	AccountID    string     `json:"account_id,omitempty"`
}

// FileTokenStore is the default TokenStore: one JSON file per
// (provider, profile) pair under Dir, named "<provider>-<profile>.json",
// with permissions restricted to the owning user where the platform
// supports it.
type FileTokenStore struct {
	Dir string
}

// NewFileTokenStore constructs a FileTokenStore rooted at dir.
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{Dir: dir}
}

func (s *FileTokenStore) path(provider, profile string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s.json", provider, profile))
}

// Load implements TokenStore.
func (s *FileTokenStore) Load(provider, profile string) (Token, bool, error) {
	raw, err := os.ReadFile(s.path(provider, profile))
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, false, nil
		}
		return Token{}, false, errs.Wrap(errs.KindConfiguration, "config: read token file", err)
	}
	var ft fileToken
	if err := json.Unmarshal(raw, &ft); err != nil {
		return Token{}, false, errs.Wrap(errs.KindConfiguration, "config: parse token file", err)
	}
	return Token{
		AccessToken:  ft.AccessToken,
		RefreshToken: ft.RefreshToken,
		ExpiresAt:    ft.ExpiresAt,
		Scopes:       ft.Scopes,
		AccountID:    ft.AccountID,
	}, true, nil
}

// Save writes token to disk for (provider, profile), creating Dir if
// necessary and restricting the file to owner read/write.
func (s *FileTokenStore) Save(provider, profile string, token Token) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return errs.Wrap(errs.KindConfiguration, "config: create token dir", err)
	}
	ft := fileToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Scopes:       token.Scopes,
		AccountID:    token.AccountID,
	}
	raw, err := json.Marshal(ft)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "config: encode token", err)
	}
	return os.WriteFile(s.path(provider, profile), raw, 0o600)
}
