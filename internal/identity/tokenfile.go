package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/smithy-go/auth/bearer"

	"github.com/zjrosen/qprofile/internal/log"
)

// ErrTokenExpired is returned when the cached token has expired and the
// file on disk holds no fresher one.
var ErrTokenExpired = errors.New("identity: bearer token expired")

// tokenCache is the on-disk SSO token cache layout.
type tokenCache struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Region      string    `json:"region"`
	StartURL    string    `json:"startUrl"`
}

// TokenFile is a bearer.TokenProvider backed by an SSO token cache file.
// The token is cached in memory and the file is re-read once it expires.
type TokenFile struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	cached bearer.Token
}

var _ bearer.TokenProvider = (*TokenFile)(nil)

// LoadTokenFile reads path and returns the connection it describes.
func LoadTokenFile(path string) (Connection, error) {
	tf := &TokenFile{path: filepath.Clean(path), now: time.Now}
	tc, err := tf.read()
	if err != nil {
		return Connection{}, err
	}
	tf.cached = toBearer(tc)
	return NewBearerConnection(tc.StartURL, tc.Region, tf), nil
}

// RetrieveBearerToken implements bearer.TokenProvider.
func (f *TokenFile) RetrieveBearerToken(ctx context.Context) (bearer.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !expired(f.cached, f.now()) {
		return f.cached, nil
	}

	tc, err := f.read()
	if err != nil {
		return bearer.Token{}, err
	}
	tok := toBearer(tc)
	if expired(tok, f.now()) {
		log.Warn(log.CatIdentity, "Token on disk is expired", "path", f.path, "expiresAt", tc.ExpiresAt)
		return bearer.Token{}, ErrTokenExpired
	}
	f.cached = tok
	return tok, nil
}

func (f *TokenFile) read() (tokenCache, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return tokenCache{}, fmt.Errorf("reading token file: %w", err)
	}
	var tc tokenCache
	if err := json.Unmarshal(data, &tc); err != nil {
		return tokenCache{}, fmt.Errorf("parsing token file %s: %w", f.path, err)
	}
	if tc.AccessToken == "" || tc.StartURL == "" || tc.Region == "" {
		return tokenCache{}, fmt.Errorf("token file %s: accessToken, startUrl and region are required", f.path)
	}
	return tc, nil
}

func toBearer(tc tokenCache) bearer.Token {
	return bearer.Token{
		Value:     tc.AccessToken,
		CanExpire: !tc.ExpiresAt.IsZero(),
		Expires:   tc.ExpiresAt,
	}
}

func expired(t bearer.Token, now time.Time) bool {
	if t.Value == "" {
		return true
	}
	return t.CanExpire && !now.Before(t.Expires)
}
