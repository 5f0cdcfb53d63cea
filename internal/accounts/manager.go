package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBotTypeNotFound means the backend type was never registered.
	ErrBotTypeNotFound = errors.New("accounts: bot type not found")
	// ErrNoAvailableBot means the pool for a registered type is empty.
	ErrNoAvailableBot = errors.New("accounts: no available bot")
)

// Account is one credential record for a backend type. Exactly one of
// APIKey and Cookie is set. Accounts are immutable after registration
// except for the ok flag set during load.
type Account struct {
	Type    string
	APIKey  *config.APIKeyAccount
	Cookie  *config.CookieAccount
	Remarks string

	ok bool
}

// OK reports whether the startup health check passed.
func (a *Account) OK() bool { return a.ok }

// ProbeFunc is an idempotent health check for one account.
type ProbeFunc func(ctx context.Context) error

// Candidate pairs an account with its health check for Load.
type Candidate struct {
	Account *Account
	Probe   ProbeFunc
}

// Manager keeps one ordered pool of validated accounts per backend
// type and hands them out with a cyclic iterator.
type Manager struct {
	mu     sync.Mutex
	pools  map[string][]*Account
	cursor map[string]int
	logger *logrus.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		pools:  make(map[string][]*Account),
		cursor: make(map[string]int),
		logger: logger,
	}
}

// RegisterType declares that accounts of this backend type exist. It
// must be called before Load so that Pick can distinguish an unknown
// type from an empty pool.
func (m *Manager) RegisterType(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[name]; !ok {
		m.pools[name] = nil
	}
}

// Load probes every candidate concurrently and appends the ones that
// pass to their pool. Probe failures are logged, never fatal; a failed
// account is dropped from this load cycle only.
func (m *Manager) Load(ctx context.Context, candidates []Candidate) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, 30*time.Second)
			defer cancel()

			if err := c.Probe(probeCtx); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"type":    c.Account.Type,
					"remarks": c.Account.Remarks,
				}).Warn("Account health check failed")
				return nil
			}

			c.Account.ok = true
			m.mu.Lock()
			m.pools[c.Account.Type] = append(m.pools[c.Account.Type], c.Account)
			m.mu.Unlock()

			m.logger.WithFields(logrus.Fields{
				"type":    c.Account.Type,
				"remarks": c.Account.Remarks,
			}).Info("Account validated")
			return nil
		})
	}
	// Individual failures are swallowed above so a broken provider
	// never blocks startup.
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, pool := range m.pools {
		m.logger.WithFields(logrus.Fields{
			"type":     name,
			"accounts": len(pool),
		}).Info("Account pool loaded")
	}
}

// Pick returns the next account for the type. The iterator advances
// exactly once per call regardless of what the caller does with the
// account afterwards.
func (m *Manager) Pick(botType string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[botType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBotTypeNotFound, botType)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAvailableBot, botType)
	}

	idx := m.cursor[botType] % len(pool)
	m.cursor[botType] = (idx + 1) % len(pool)
	return pool[idx], nil
}

// Types lists registered backend types.
func (m *Manager) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pools))
	for name := range m.pools {
		out = append(out, name)
	}
	return out
}
