// internal/models/role.go
package models

import (
	"encoding/json"
	"fmt"
)

// Role is a set of independent capability flags held by a gamer.
type Role uint8

const (
	RoleCreator Role = 1 << iota
	RoleParticipant
	RoleSilent
)

var roleNames = []struct {
	flag Role
	name string
}{
	{RoleCreator, "CREATOR"},
	{RoleParticipant, "PARTICIPANT"},
	{RoleSilent, "SILENT"},
}

// Has reports whether every flag in other is set.
func (r Role) Has(other Role) bool { return r&other == other && other != 0 }

// Names lists the flags in a stable order.
func (r Role) Names() []string {
	names := make([]string, 0, 3)
	for _, rn := range roleNames {
		if r&rn.flag != 0 {
			names = append(names, rn.name)
		}
	}
	return names
}

func (r Role) String() string { return fmt.Sprint(r.Names()) }

// ParseRoles builds a Role from flag names.
func ParseRoles(names []string) (Role, error) {
	var r Role
outer:
	for _, n := range names {
		for _, rn := range roleNames {
			if rn.name == n {
				r |= rn.flag
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown role %q", n)
	}
	return r, nil
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Names())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseRoles(names)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
