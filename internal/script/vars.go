// Package script holds the shell script templates run on provisioned hosts
// and the variable substitution applied to them before execution.
package script

import (
	"fmt"
	"sort"
	"strings"
)

// Var is one placeholder binding. The placeholder token is "$" + Name.
type Var struct {
	Name  string
	Value string
}

// Token returns the placeholder text matched in templates.
func (v Var) Token() string {
	return "$" + v.Name
}

// Vars is an ordered set of bindings. Names must be unique.
type Vars []Var

// Add appends a binding and returns the extended set.
func (v Vars) Add(name, value string) Vars {
	return append(v, Var{Name: name, Value: value})
}

// Merge appends other after v.
func (v Vars) Merge(other Vars) Vars {
	out := make(Vars, 0, len(v)+len(other))
	out = append(out, v...)
	return append(out, other...)
}

// Get returns the value bound to name.
func (v Vars) Get(name string) (string, bool) {
	for _, b := range v {
		if b.Name == name {
			return b.Value, true
		}
	}
	return "", false
}

// Validate reports empty or duplicate names.
func (v Vars) Validate() error {
	seen := make(map[string]struct{}, len(v))
	for i, b := range v {
		if b.Name == "" {
			return fmt.Errorf("variable %d has an empty name", i)
		}
		if strings.ContainsAny(b.Name, " \t\n$") {
			return fmt.Errorf("variable %q has an invalid name", b.Name)
		}
		if _, ok := seen[b.Name]; ok {
			return fmt.Errorf("duplicate variable %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}

// ReplaceVars substitutes every "$NAME" placeholder in script with the bound
// value in a single scan. Replaced text is never scanned again, so a value
// that itself contains a placeholder stays literal. Placeholders with no
// binding are left as is. When tokens share a prefix ($PORT, $PORT_UDP) the
// longest one wins; for duplicate names the first binding wins.
//
// Values are inserted verbatim with no shell escaping. Whoever builds vars
// must make sure values are safe for the shell context they land in.
func ReplaceVars(script string, vars Vars) string {
	if len(vars) == 0 {
		return script
	}

	ordered := make(Vars, len(vars))
	copy(ordered, vars)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Name) > len(ordered[j].Name)
	})

	pairs := make([]string, 0, 2*len(ordered))
	for _, b := range ordered {
		if b.Name == "" {
			continue
		}
		pairs = append(pairs, b.Token(), b.Value)
	}
	return strings.NewReplacer(pairs...).Replace(script)
}
