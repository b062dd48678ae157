// Package session hands out lab clients bound to Telegram users.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"grillo-telebot/internal/grillo"
	"grillo-telebot/internal/mapping"
)

// ErrNotAuthenticated is returned to callers that need an account but
// whose Telegram user is not linked to one.
var ErrNotAuthenticated = errors.New("not authenticated")

// Broker caches one UserClient per Telegram user. Entries are rebuilt
// when the user's mapping changes.
type Broker struct {
	admin  *grillo.AdminClient
	mapper *mapping.Mapper
	log    *zap.Logger

	mu      sync.RWMutex
	clients map[int64]*grillo.UserClient

	group singleflight.Group
}

func NewBroker(admin *grillo.AdminClient, mapper *mapping.Mapper, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broker{
		admin:   admin,
		mapper:  mapper,
		log:     log,
		clients: make(map[int64]*grillo.UserClient),
	}
	mapper.OnRemap(b.Invalidate)
	return b
}

// Mapper exposes the identity table the broker reads from.
func (b *Broker) Mapper() *mapping.Mapper { return b.mapper }

// Client returns the client bound to telegramID's lab account, running
// discovery first if the user is not mapped yet. Errors from discovery
// are mapping.ErrNotFound or mapping.ErrDiscoveryFailed.
func (b *Broker) Client(ctx context.Context, telegramID int64) (*grillo.UserClient, error) {
	var discovered *grillo.Account
	accountID, ok := b.mapper.Lookup(telegramID)
	if !ok {
		acc, err := b.mapper.Discover(ctx, telegramID)
		if err != nil {
			return nil, err
		}
		discovered = &acc
		accountID = acc.ID
	}

	if c := b.cached(telegramID, accountID); c != nil {
		return c, nil
	}

	key := strconv.FormatInt(telegramID, 10) + "/" + accountID
	v, err, _ := b.group.Do(key, func() (any, error) {
		if c := b.cached(telegramID, accountID); c != nil {
			return c, nil
		}

		var c *grillo.UserClient
		if discovered != nil {
			c = b.admin.As(*discovered)
		} else {
			var err error
			c, err = b.admin.Scope(ctx, accountID)
			if err != nil {
				b.log.Warn("building lab client failed",
					zap.Int64("telegram_id", telegramID),
					zap.String("account", accountID),
					zap.Error(err))
				return nil, fmt.Errorf("client for %q: %w", accountID, err)
			}
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		// The mapping may have moved while the client was being built.
		if current, ok := b.mapper.Lookup(telegramID); ok && current == accountID {
			b.clients[telegramID] = c
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grillo.UserClient), nil
}

// Authenticated is Client for operations that must act as the caller.
// A user the lab service does not know gets ErrNotAuthenticated.
func (b *Broker) Authenticated(ctx context.Context, telegramID int64) (*grillo.UserClient, error) {
	c, err := b.Client(ctx, telegramID)
	if errors.Is(err, mapping.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	return c, err
}

// Reader serves reads that do not depend on who is asking.
type Reader interface {
	Location(ctx context.Context, id string) (*grillo.Location, error)
}

// Reader returns the caller's client, or the administrative client when
// the caller cannot be resolved for any reason.
func (b *Broker) Reader(ctx context.Context, telegramID int64) Reader {
	c, err := b.Client(ctx, telegramID)
	if err != nil {
		b.log.Debug("falling back to admin client for read",
			zap.Int64("telegram_id", telegramID),
			zap.Error(err))
		return b.admin
	}
	return c
}

// Invalidate drops the cached client of telegramID, if any.
func (b *Broker) Invalidate(telegramID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[telegramID]; ok {
		delete(b.clients, telegramID)
		b.log.Debug("evicted lab client", zap.Int64("telegram_id", telegramID))
	}
}

// cached returns the cached client only if it is still bound to accountID.
func (b *Broker) cached(telegramID int64, accountID string) *grillo.UserClient {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[telegramID]
	if !ok || c.Account().ID != accountID {
		return nil
	}
	return c
}
