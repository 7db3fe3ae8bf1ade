// Package models provides data models for mydra build passes.
package models

import (
	"path"
	"sort"
	"strings"
)

// Attribute is a user-facing attribute path naming a build target,
// e.g. "python39Packages.numpy".
type Attribute string

// BuildUnit is a derivation path inside the Nix store,
// e.g. "/nix/store/<hash>-numpy-1.21.0.drv".
type BuildUnit string

// ArtifactLocation is the store path of a realized derivation output.
type ArtifactLocation string

// storeHashLen is the length of the base32 hash prefix of a store path name.
const storeHashLen = 32

// Base returns the final path element of the unit, used as its log file name.
func (u BuildUnit) Base() string {
	return path.Base(string(u))
}

// Name returns the derivation name without the store hash and ".drv" suffix.
func (u BuildUnit) Name() string {
	return strings.TrimSuffix(storeName(string(u)), ".drv")
}

// String returns the string representation of the unit.
func (u BuildUnit) String() string {
	return string(u)
}

// Name returns the output name without the store hash.
func (l ArtifactLocation) Name() string {
	return storeName(string(l))
}

// Owner returns the unit among units that produces l. The default output
// carries the derivation's name; other outputs append "-<output>" to it, as
// in "openssl-3.0.7-dev". The longest matching name wins.
func (l ArtifactLocation) Owner(units []BuildUnit) (BuildUnit, bool) {
	name := l.Name()

	var owner BuildUnit
	best := -1
	for _, u := range units {
		n := u.Name()
		if n == name {
			return u, true
		}
		if len(n) > best && isOutputSuffix(name, n) {
			owner, best = u, len(n)
		}
	}
	return owner, best >= 0
}

// isOutputSuffix reports whether name is drvName followed by "-<output>".
// Output names contain no dash and do not start with a digit, which keeps
// "foo-1.0" from matching a derivation named "foo".
func isOutputSuffix(name, drvName string) bool {
	if !strings.HasPrefix(name, drvName+"-") {
		return false
	}
	out := name[len(drvName)+1:]
	if out == "" || strings.Contains(out, "-") {
		return false
	}
	return out[0] < '0' || out[0] > '9'
}

// storeName strips the directory and "<hash>-" prefix from a store path.
func storeName(p string) string {
	base := path.Base(p)
	if len(base) > storeHashLen && base[storeHashLen] == '-' {
		return base[storeHashLen+1:]
	}
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[i+1:]
	}
	return base
}

// IsStorePath reports whether p looks like a path in storeDir:
// <storeDir>/<32 char hash>-<name>.
func IsStorePath(storeDir, p string) bool {
	prefix := strings.TrimSuffix(storeDir, "/") + "/"
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	remainder := strings.TrimPrefix(p, prefix)
	if len(remainder) < storeHashLen+2 {
		return false
	}
	return remainder[storeHashLen] == '-' && !strings.Contains(remainder, "/")
}

// WorkingSet maps the units processed in one build pass to the attribute
// they were evaluated from. Units discovered by transitive expansion carry
// an empty attribute.
type WorkingSet map[BuildUnit]Attribute

// Units returns the units of the working set in sorted order.
func (ws WorkingSet) Units() []BuildUnit {
	units := make([]BuildUnit, 0, len(ws))
	for u := range ws {
		units = append(units, u)
	}
	SortUnits(units)
	return units
}

// Add inserts unit with an empty attribute if it is not already present.
// It reports whether the unit was added.
func (ws WorkingSet) Add(unit BuildUnit) bool {
	if _, ok := ws[unit]; ok {
		return false
	}
	ws[unit] = ""
	return true
}

// Clone returns a shallow copy of the working set.
func (ws WorkingSet) Clone() WorkingSet {
	out := make(WorkingSet, len(ws))
	for u, a := range ws {
		out[u] = a
	}
	return out
}

// SortUnits sorts units in place.
func SortUnits(units []BuildUnit) {
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
}
