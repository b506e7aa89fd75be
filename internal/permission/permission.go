package permission

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is a fixed-width bitset of atomic operations. Values are
// immutable; Grant and Revoke return new values rather than mutating.
type Permission uint32

// Primitive permission bits.
const (
	EntityRead Permission = 1 << iota
	EntityWrite
	EntityDelete
	EntityShare
	RelationshipRead
	RelationshipWrite
	AttachmentRead
	AttachmentWrite
	AttachmentDelete
	CommentRead
	CommentWrite
	CommentModerate
	Search
	Export
	Import
	AuditView
	AclRead
	AclManage
	RoleRead
	RoleManage
	PolicyRead
	PolicyManage
	AdminPanel
	SystemConfig
)

// Composite presets. These are precomputed unions of primitive bits; no other
// composition logic exists.
const (
	None     Permission = 0
	ReadOnly            = EntityRead | RelationshipRead | AttachmentRead | CommentRead | Search
	Contributor         = ReadOnly | EntityWrite | EntityShare | RelationshipWrite | AttachmentWrite | CommentWrite | Export
	Moderator           = Contributor | EntityDelete | AttachmentDelete | CommentModerate | AclRead | RoleRead | PolicyRead | AuditView
	Admin               = Moderator | Import | AclManage | RoleManage | PolicyManage | AdminPanel | SystemConfig
)

var names = map[Permission]string{
	EntityRead:        "entity:read",
	EntityWrite:       "entity:write",
	EntityDelete:      "entity:delete",
	EntityShare:       "entity:share",
	RelationshipRead:  "relationship:read",
	RelationshipWrite: "relationship:write",
	AttachmentRead:    "attachment:read",
	AttachmentWrite:   "attachment:write",
	AttachmentDelete:  "attachment:delete",
	CommentRead:       "comment:read",
	CommentWrite:      "comment:write",
	CommentModerate:   "comment:moderate",
	Search:            "search",
	Export:            "export",
	Import:            "import",
	AuditView:         "audit:view",
	AclRead:           "acl:read",
	AclManage:         "acl:manage",
	RoleRead:          "role:read",
	RoleManage:        "role:manage",
	PolicyRead:        "policy:read",
	PolicyManage:      "policy:manage",
	AdminPanel:        "admin:panel",
	SystemConfig:      "system:config",
}

var byName = func() map[string]Permission {
	m := make(map[string]Permission, len(names))
	for p, n := range names {
		m[n] = p
	}
	return m
}()

// Has reports whether p contains every bit of required.
func Has(p, required Permission) bool {
	return p&required == required
}

// HasAny reports whether p contains at least one bit of required.
func HasAny(p, required Permission) bool {
	return p&required != 0
}

// HasAll is an alias of Has for call sites that read better with it.
func HasAll(p, required Permission) bool {
	return Has(p, required)
}

// Grant returns p with the given bits added.
func Grant(p, bits Permission) Permission {
	return p | bits
}

// Revoke returns p with the given bits removed.
func Revoke(p, bits Permission) Permission {
	return p &^ bits
}

// Parse resolves a single permission name to its bit.
func Parse(name string) (Permission, error) {
	if p, ok := byName[name]; ok {
		return p, nil
	}
	return None, fmt.Errorf("unknown permission %q", name)
}

// ParseLevel maps a default-access level to its permission preset. The
// "inherit" level maps to None; callers treat it as "no substitution".
func ParseLevel(level string) Permission {
	switch level {
	case "read":
		return ReadOnly
	case "contribute":
		return Contributor
	case "moderate":
		return Moderator
	case "full":
		return Admin
	default: // "none", "inherit", unknown
		return None
	}
}

// Names returns the sorted-by-bit list of primitive flag names set in p.
func (p Permission) Names() []string {
	out := []string{}
	for bit := Permission(1); bit != 0 && bit <= SystemConfig; bit <<= 1 {
		if p&bit != 0 {
			out = append(out, names[bit])
		}
	}
	return out
}

func (p Permission) String() string {
	if p == None {
		return "none"
	}
	return strings.Join(p.Names(), ",")
}

// MarshalJSON renders the set as a list of flag names.
func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Names())
}

// UnmarshalJSON accepts a list of flag names; unknown names are rejected.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var flags []string
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	var v Permission
	for _, f := range flags {
		bit, err := Parse(f)
		if err != nil {
			return err
		}
		v |= bit
	}
	*p = v
	return nil
}
