package models

import "time"

// QuotaAccount is the usage-limit record of one access credential.
// Units are production seconds.
type QuotaAccount struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	MaxUnits  int64     `json:"maxUnits"`
	UsedUnits int64     `json:"usedUnits"`
	Banned    bool      `json:"banned"`
	Unlimited bool      `json:"unlimited"`
	CreatedBy string    `json:"createdBy"`
	OwnerUID  string    `json:"ownerUid,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Remaining returns the units left before the ceiling. Unlimited accounts report -1.
func (a QuotaAccount) Remaining() int64 {
	if a.Unlimited {
		return -1
	}
	if a.UsedUnits >= a.MaxUnits {
		return 0
	}
	return a.MaxUnits - a.UsedUnits
}

// User roles and statuses.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	UserActive = "active"
	UserBanned = "banned"
)

// User is a registered studio account.
type User struct {
	UID                    string    `json:"uid"`
	Name                   string    `json:"name"`
	Email                  string    `json:"email"`
	Role                   string    `json:"role"`
	Status                 string    `json:"status"`
	AccessKeyID            string    `json:"accessKeyId"`
	TotalProductionMinutes int       `json:"totalProductionMinutes"`
	JoinedAt               time.Time `json:"joinedAt"`
}

// Settings is the single global studio settings record.
type Settings struct {
	AppName     string `json:"appName"`
	AccentColor string `json:"accentColor"`
}

// DefaultSettings returns the settings a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{AppName: "ANYTIME STUDIO", AccentColor: "#6366f1"}
}
