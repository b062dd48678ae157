package grillo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrEmptySummary is returned by ClockOut before any request is made.
var ErrEmptySummary = errors.New("a summary of the work done is required")

// AdminClient acts with the bot's token and no bound account. It is the
// only way to discover accounts and to derive UserClients.
type AdminClient struct {
	t *transport
}

// NewAdminClient builds the process-wide administrative client.
func NewAdminClient(baseURL, token string, cli *http.Client) *AdminClient {
	return &AdminClient{t: newTransport(baseURL, token, cli)}
}

// UserByTelegramID asks the lab service which account is linked to the
// given Telegram user. ErrAccountNotFound means the service has no link.
func (c *AdminClient) UserByTelegramID(ctx context.Context, telegramID int64) (Account, error) {
	var acc *Account
	q := url.Values{"telegram_id": {strconv.FormatInt(telegramID, 10)}}
	if err := c.t.do(ctx, http.MethodGet, "/user", q, nil, &acc); err != nil {
		var se *ServiceError
		if errors.Is(err, ErrAccountNotFound) || (errors.As(err, &se) && se.Status == http.StatusNotFound) {
			return Account{}, fmt.Errorf("telegram id %d: %w", telegramID, ErrAccountNotFound)
		}
		return Account{}, err
	}
	if acc == nil || acc.ID == "" {
		return Account{}, fmt.Errorf("telegram id %d: %w", telegramID, ErrAccountNotFound)
	}
	return *acc, nil
}

// Scope resolves accountID against the lab service and returns a client
// bound to it.
func (c *AdminClient) Scope(ctx context.Context, accountID string) (*UserClient, error) {
	if accountID == "" {
		return nil, fmt.Errorf("scope: %w", ErrAccountNotFound)
	}
	t := c.t.as(accountID)

	var acc *Account
	if err := t.do(ctx, http.MethodGet, "/user", nil, nil, &acc); err != nil {
		var se *ServiceError
		if errors.Is(err, ErrAccountNotFound) || (errors.As(err, &se) && se.Status == http.StatusNotFound) {
			return nil, fmt.Errorf("account %q: %w", accountID, ErrAccountNotFound)
		}
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %q: %w", accountID, ErrAccountNotFound)
	}
	if acc.ID == "" {
		acc.ID = accountID
	}
	if acc.ID != accountID {
		return nil, fmt.Errorf("lab service returned account %q for %q", acc.ID, accountID)
	}
	return &UserClient{t: t, account: *acc}, nil
}

// As binds an already resolved account without a round trip.
func (c *AdminClient) As(account Account) *UserClient {
	return &UserClient{t: c.t.as(account.ID), account: account}
}

// Location returns the occupancy view of a location.
func (c *AdminClient) Location(ctx context.Context, id string) (*Location, error) {
	return getLocation(ctx, c.t, id)
}

// UserClient acts as exactly one lab account. Every request carries the
// account id as the uid query parameter and every write names it as user.
type UserClient struct {
	t       *transport
	account Account
}

func (c *UserClient) Account() Account { return c.account }

func (c *UserClient) IsAdmin() bool { return c.account.IsAdmin() }

func (c *UserClient) Location(ctx context.Context, id string) (*Location, error) {
	return getLocation(ctx, c.t, id)
}

// ClockIn opens a lab session for the bound account. An empty location
// means the service default.
func (c *UserClient) ClockIn(ctx context.Context, location string) (*ClockInResult, error) {
	return c.clockIn(ctx, c.account.ID, location)
}

// ClockInFor opens a lab session for target on behalf of the bound
// account, which must be an administrator. The privilege check happens
// before any request is issued.
func (c *UserClient) ClockInFor(ctx context.Context, target, location string) (*ClockInResult, error) {
	if !c.IsAdmin() {
		return nil, fmt.Errorf("clock in %q as %q: %w", target, c.account.ID, ErrPermissionDenied)
	}
	if target == "" {
		return nil, fmt.Errorf("clock in: %w", ErrAccountNotFound)
	}
	return c.clockIn(ctx, target, location)
}

func (c *UserClient) clockIn(ctx context.Context, user, location string) (*ClockInResult, error) {
	req := clockInReq{Login: true, User: user, Location: location}
	var res ClockInResult
	if err := c.t.do(ctx, http.MethodPost, "/audits", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ClockOut closes the open lab session of the bound account.
func (c *UserClient) ClockOut(ctx context.Context, summary string) (*Audit, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, ErrEmptySummary
	}
	req := clockOutReq{Logout: true, Summary: summary, User: c.account.ID}
	var audits []Audit
	if err := c.t.do(ctx, http.MethodPatch, "/audits", nil, req, &audits); err != nil {
		return nil, err
	}
	if len(audits) == 0 {
		return nil, &NetworkError{Op: "PATCH /audits", Err: errEmptyResponse}
	}
	return &audits[0], nil
}

func getLocation(ctx context.Context, t *transport, id string) (*Location, error) {
	if id == "" {
		id = DefaultLocation
	}
	var loc Location
	if err := t.do(ctx, http.MethodGet, "/locations/"+url.PathEscape(id), nil, nil, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}
