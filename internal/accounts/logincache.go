package accounts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// loginCacheFile is the persisted name shared with operator tooling.
const loginCacheFile = "login_caches.json"

// LoginCacheEntry maps a fingerprinted account to its cached provider
// tokens (session_token, access_token and friends).
type LoginCacheEntry struct {
	Account string            `json:"account"`
	Cache   map[string]string `json:"cache"`
}

// LoginCache persists provider login material between restarts so
// cookie and token accounts skip a full login when still valid.
type LoginCache struct {
	mu   sync.Mutex
	path string
}

// NewLoginCache opens the cache under the data directory.
func NewLoginCache(dataDir string) (*LoginCache, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &LoginCache{path: filepath.Join(dataDir, loginCacheFile)}, nil
}

// Fingerprint derives the stable account key: the sha256 hex of the
// account's JSON form.
func Fingerprint(account interface{}) (string, error) {
	data, err := json.Marshal(account)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *LoginCache) load() ([]LoginCacheEntry, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []LoginCacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt login cache: %w", err)
	}
	return entries, nil
}

// Get returns the cached tokens for an account fingerprint.
func (c *LoginCache) Get(fingerprint string) (map[string]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.load()
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if e.Account == fingerprint {
			return e.Cache, true, nil
		}
	}
	return nil, false, nil
}

// Put stores or replaces the cached tokens for a fingerprint.
func (c *LoginCache) Put(fingerprint string, cache map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Account == fingerprint {
			entries[i].Cache = cache
			return c.write(entries)
		}
	}
	entries = append(entries, LoginCacheEntry{Account: fingerprint, Cache: cache})
	return c.write(entries)
}

func (c *LoginCache) write(entries []LoginCacheEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
