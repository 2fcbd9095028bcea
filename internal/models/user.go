package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleInstructor Role = "INSTRUCTOR"
	RoleStudent    Role = "STUDENT"
)

// AllRoles lists platform roles in their canonical order
var AllRoles = []Role{RoleAdmin, RoleInstructor, RoleStudent}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) bit() RoleSet {
	switch r {
	case RoleAdmin:
		return 1 << 0
	case RoleInstructor:
		return 1 << 1
	case RoleStudent:
		return 1 << 2
	}
	return 0
}

// RoleSet is a set of platform roles. Roles are not mutually exclusive.
type RoleSet uint8

func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.Add(r)
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	b := r.bit()
	return b != 0 && s&b == b
}

func (s RoleSet) Add(r Role) RoleSet    { return s | r.bit() }
func (s RoleSet) Remove(r Role) RoleSet { return s &^ r.bit() }

func (s RoleSet) Roles() []Role {
	roles := make([]Role, 0, len(AllRoles))
	for _, r := range AllRoles {
		if s.Has(r) {
			roles = append(roles, r)
		}
	}
	return roles
}

func (s RoleSet) String() string {
	parts := make([]string, 0, len(AllRoles))
	for _, r := range s.Roles() {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// ParseRoleSet parses a comma separated role list
func ParseRoleSet(s string) (RoleSet, error) {
	var set RoleSet
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		r, err := ParseRole(p)
		if err != nil {
			return 0, err
		}
		set = set.Add(r)
	}
	return set, nil
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Roles())
}

func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var roles []string
	if err := json.Unmarshal(data, &roles); err != nil {
		return err
	}
	var set RoleSet
	for _, name := range roles {
		r, err := ParseRole(name)
		if err != nil {
			return err
		}
		set = set.Add(r)
	}
	*s = set
	return nil
}

// Value stores the set as a comma separated string column
func (s RoleSet) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *RoleSet) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = 0
		return nil
	case string:
		set, err := ParseRoleSet(v)
		if err != nil {
			return err
		}
		*s = set
		return nil
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into RoleSet", value)
	}
}

func (RoleSet) GormDataType() string { return "string" }

// User is the identity the core authorizes against. It is owned by the
// identity directory; the core only reads the id and role set.
type User struct {
	ID       string  `json:"id" gorm:"primaryKey;size:255"`
	Username string  `json:"username" gorm:"uniqueIndex;not null;size:100"`
	FullName string  `json:"full_name" gorm:"size:100"`
	Email    string  `json:"email" gorm:"size:255"`
	Roles    RoleSet `json:"roles" gorm:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) HasRole(r Role) bool {
	return u != nil && u.Roles.Has(r)
}

func (u *User) IsPlatformAdmin() bool { return u.HasRole(RoleAdmin) }
func (u *User) IsInstructor() bool    { return u.HasRole(RoleInstructor) }

// UserRoleAssignment is one row of the user_roles table
type UserRoleAssignment struct {
	UserID string `json:"user_id" gorm:"primaryKey;size:255"`
	Role   Role   `json:"role" gorm:"primaryKey;size:20"`
}

func (UserRoleAssignment) TableName() string {
	return "user_roles"
}

// InvitationCode grants a role set once. Issuing codes happens elsewhere;
// this service only redeems them.
type InvitationCode struct {
	Code      string     `json:"code" gorm:"primaryKey;size:64"`
	Roles     RoleSet    `json:"roles" gorm:"type:varchar(64);not null"`
	Used      bool       `json:"used" gorm:"not null"`
	UsedBy    *string    `json:"used_by" gorm:"size:255"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (InvitationCode) TableName() string {
	return "invitation_codes"
}
