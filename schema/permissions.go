package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// InheritGlobal is the wire sentinel for the Global permission state.
	InheritGlobal = "inherit-global"
	// legacyInheritGlobal is accepted on input for older admin clients.
	legacyInheritGlobal = "GLOBAL"
)

// PermissionSet is either Global (inherit the global default) or an explicit set.
// The zero value is Global.
type PermissionSet struct {
	explicit bool
	names    map[WidgetName]struct{}
}

// Global returns the inheriting permission state.
func Global() PermissionSet {
	return PermissionSet{}
}

// Explicit returns an explicit permission set. An empty set hides every widget.
func Explicit(names ...WidgetName) PermissionSet {
	set := PermissionSet{explicit: true, names: make(map[WidgetName]struct{}, len(names))}
	for _, name := range NormalizeWidgetNames(names) {
		set.names[name] = struct{}{}
	}
	return set
}

// IsGlobal reports whether the set inherits the global default.
func (p PermissionSet) IsGlobal() bool {
	return !p.explicit
}

// IsZero reports the Global state so omitzero fields drop it from JSON.
func (p PermissionSet) IsZero() bool {
	return !p.explicit
}

// Has reports whether an explicit set contains name.
func (p PermissionSet) Has(name WidgetName) bool {
	_, ok := p.names[name]
	return ok
}

// Len returns the number of explicit names.
func (p PermissionSet) Len() int {
	return len(p.names)
}

// Names returns the explicit names sorted, or nil for Global.
func (p PermissionSet) Names() []WidgetName {
	if !p.explicit {
		return nil
	}
	out := make([]WidgetName, 0, len(p.names))
	for name := range p.names {
		out = append(out, name)
	}
	return NormalizeWidgetNames(out)
}

// Resolve returns the effective allow-list given the current global default.
func (p PermissionSet) Resolve(global []WidgetName) []WidgetName {
	if p.explicit {
		return p.Names()
	}
	return NormalizeWidgetNames(global)
}

// Equal compares two permission states.
func (p PermissionSet) Equal(other PermissionSet) bool {
	if p.explicit != other.explicit {
		return false
	}
	if len(p.names) != len(other.names) {
		return false
	}
	for name := range p.names {
		if _, ok := other.names[name]; !ok {
			return false
		}
	}
	return true
}

// String renders the state for logs.
func (p PermissionSet) String() string {
	if !p.explicit {
		return InheritGlobal
	}
	names := p.Names()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, string(name))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// MarshalJSON encodes Global as the sentinel string and Explicit as an array.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	if !p.explicit {
		return json.Marshal(InheritGlobal)
	}
	return json.Marshal(p.Names())
}

// UnmarshalJSON accepts an array, the sentinel strings, or null.
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = Global()
		return nil
	}
	switch trimmed[0] {
	case '"':
		var sentinel string
		if err := json.Unmarshal(trimmed, &sentinel); err != nil {
			return err
		}
		if sentinel == InheritGlobal || sentinel == legacyInheritGlobal {
			*p = Global()
			return nil
		}
		return fmt.Errorf("%w: unknown permission sentinel %q", ErrInvalidRequest, sentinel)
	case '[':
		var names []WidgetName
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return err
		}
		*p = Explicit(names...)
		return nil
	default:
		return fmt.Errorf("%w: permissions must be a list or %q", ErrInvalidRequest, InheritGlobal)
	}
}
