package grillo

import "time"

// AdminGroup is the role marker that grants administrative privilege.
const AdminGroup = "soviet"

// DefaultLocation is the location id the lab service resolves to its default lab.
const DefaultLocation = "default"

// Account
type Account struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
}

// IsAdmin reports whether the account belongs to AdminGroup.
func (a Account) IsAdmin() bool {
	for _, g := range a.Groups {
		if g == AdminGroup {
			return true
		}
	}
	return false
}

// DisplayName falls back to the id when the service sent no name.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Location
type Location struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	People   []Person  `json:"people"`
	Bookings []Booking `json:"bookings"`
}

type Person struct {
	Name string `json:"name"`
}

type Booking struct {
	StartTime int64  `json:"startTime"`
	EndTime   *int64 `json:"endTime,omitempty"`
	UserName  string `json:"userName"`
}

func (b Booking) Start() time.Time { return time.Unix(b.StartTime, 0) }

// Audits
type clockInReq struct {
	Login    bool   `json:"login"`
	User     string `json:"user"`
	Location string `json:"location,omitempty"`
}

type ClockInResult struct {
	Location string `json:"location"`
}

type clockOutReq struct {
	Logout   bool   `json:"logout"`
	Summary  string `json:"summary"`
	User     string `json:"user"`
	Approved bool   `json:"approved"`
}

// Audit is one closed lab session as returned by a clock-out.
type Audit struct {
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
}

// Duration is EndTime - StartTime; negative spans clamp to zero.
func (a Audit) Duration() time.Duration {
	d := a.EndTime - a.StartTime
	if d < 0 {
		d = 0
	}
	return time.Duration(d) * time.Second
}

// errorResp is the shape of every error payload the lab service returns.
type errorResp struct {
	Error *string `json:"error"`
}
