// Package mapping owns the durable link between Telegram users and lab
// accounts.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"grillo-telebot/internal/grillo"
)

var (
	// ErrNotFound means the lab service has no account linked to the user.
	ErrNotFound = errors.New("no lab account linked to this telegram user")
	// ErrDiscoveryFailed means the lab service could not be asked. It wraps
	// the underlying error.
	ErrDiscoveryFailed = errors.New("account discovery failed")
)

// Discoverer resolves a Telegram user to a lab account.
type Discoverer interface {
	UserByTelegramID(ctx context.Context, telegramID int64) (grillo.Account, error)
}

// Mapper holds the telegram id -> account id table in memory and writes
// the whole table to its Store after every change. Failed discoveries
// are never recorded.
type Mapper struct {
	store Store
	disc  Discoverer
	log   *zap.Logger

	mu       sync.RWMutex
	mappings map[int64]string
	hooks    []func(telegramID int64)

	group singleflight.Group
}

// New loads the stored table. A missing store file yields an empty table.
func New(store Store, disc Discoverer, log *zap.Logger) (*Mapper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mappings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	if mappings == nil {
		mappings = map[int64]string{}
	}
	log.Info("loaded user mappings", zap.Int("count", len(mappings)))
	return &Mapper{store: store, disc: disc, log: log, mappings: mappings}, nil
}

// OnRemap registers fn to run after the mapping of a telegram id changes
// or is removed. fn runs outside the mapper's lock.
func (m *Mapper) OnRemap(fn func(telegramID int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Mapper) IsMapped(telegramID int64) bool {
	_, ok := m.Lookup(telegramID)
	return ok
}

// Lookup returns the account id mapped to telegramID.
func (m *Mapper) Lookup(telegramID int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.mappings[telegramID]
	return id, ok
}

// List returns a copy of the table.
func (m *Mapper) List() map[int64]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.mappings)
}

func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mappings)
}

// Discover asks the lab service which account is linked to telegramID and
// persists the answer. Concurrent calls for the same id share one request.
func (m *Mapper) Discover(ctx context.Context, telegramID int64) (grillo.Account, error) {
	key := strconv.FormatInt(telegramID, 10)
	v, err, _ := m.group.Do(key, func() (any, error) {
		acc, err := m.disc.UserByTelegramID(ctx, telegramID)
		if err != nil {
			if errors.Is(err, grillo.ErrAccountNotFound) {
				m.log.Info("no lab account for telegram user", zap.Int64("telegram_id", telegramID))
				return nil, fmt.Errorf("telegram id %d: %w", telegramID, ErrNotFound)
			}
			m.log.Warn("account discovery failed", zap.Int64("telegram_id", telegramID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}
		if err := m.set(telegramID, acc.ID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}
		m.log.Info("linked telegram user",
			zap.Int64("telegram_id", telegramID),
			zap.String("account", acc.ID))
		return acc, nil
	})
	if err != nil {
		return grillo.Account{}, err
	}
	return v.(grillo.Account), nil
}

// Assign maps telegramID to accountID, replacing any previous mapping.
func (m *Mapper) Assign(telegramID int64, accountID string) error {
	if accountID == "" {
		return errors.New("assign: empty account id")
	}
	if err := m.set(telegramID, accountID); err != nil {
		return err
	}
	m.log.Info("assigned telegram user",
		zap.Int64("telegram_id", telegramID),
		zap.String("account", accountID))
	return nil
}

// Unmap removes the mapping of telegramID. Unknown ids are a no-op.
func (m *Mapper) Unmap(telegramID int64) error {
	m.mu.Lock()
	if _, ok := m.mappings[telegramID]; !ok {
		m.mu.Unlock()
		return nil
	}
	next := maps.Clone(m.mappings)
	delete(next, telegramID)
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("save mappings: %w", err)
	}
	m.mappings = next
	hooks := m.hooks
	m.mu.Unlock()

	m.log.Info("unmapped telegram user", zap.Int64("telegram_id", telegramID))
	notify(hooks, telegramID)
	return nil
}

// set writes the full table with the new entry before making it visible,
// so a failed write leaves memory and disk in agreement.
func (m *Mapper) set(telegramID int64, accountID string) error {
	m.mu.Lock()
	next := maps.Clone(m.mappings)
	next[telegramID] = accountID
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("save mappings: %w", err)
	}
	m.mappings = next
	hooks := m.hooks
	m.mu.Unlock()

	notify(hooks, telegramID)
	return nil
}

func notify(hooks []func(int64), telegramID int64) {
	for _, fn := range hooks {
		fn(telegramID)
	}
}
