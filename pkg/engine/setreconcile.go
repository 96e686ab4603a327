package engine

import (
	"fmt"
	"strings"
)

// SetDiff is the result of reconciling a desired set against an observed set.
type SetDiff[T any] struct {
	// ToAdd are desired items whose key is not observed, first occurrence per key.
	ToAdd []T

	// ToRemove are observed items whose key is not desired.
	ToRemove []T
}

// Empty reports whether the sets already agree.
func (d SetDiff[T]) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Reconcile computes the add and remove lists of two keyed sets.
// Order follows the inputs.
func Reconcile[T any, K comparable](desired, observed []T, keyOf func(T) K) SetDiff[T] {
	observedKeys := make(map[K]struct{}, len(observed))
	for _, item := range observed {
		observedKeys[keyOf(item)] = struct{}{}
	}
	desiredKeys := make(map[K]struct{}, len(desired))

	var diff SetDiff[T]
	for _, item := range desired {
		k := keyOf(item)
		if _, dup := desiredKeys[k]; dup {
			continue
		}
		desiredKeys[k] = struct{}{}
		if _, ok := observedKeys[k]; !ok {
			diff.ToAdd = append(diff.ToAdd, item)
		}
	}

	removed := make(map[K]struct{})
	for _, item := range observed {
		k := keyOf(item)
		if _, ok := desiredKeys[k]; ok {
			continue
		}
		if _, dup := removed[k]; dup {
			continue
		}
		removed[k] = struct{}{}
		diff.ToRemove = append(diff.ToRemove, item)
	}
	return diff
}

// BindingKey is the identity of a binding.
type BindingKey struct {
	Protocol   string
	Port       uint16
	HostHeader string
}

// BindingKeyOf lower-cases protocol and host header; an absent host header is "".
func BindingKeyOf(b BindingSpec) BindingKey {
	return BindingKey{
		Protocol:   strings.ToLower(strings.TrimSpace(b.Protocol)),
		Port:       b.Port,
		HostHeader: strings.ToLower(strings.TrimSpace(b.HostHeader)),
	}
}

// ValidateBinding checks protocol and port.
func ValidateBinding(b BindingSpec) error {
	switch strings.ToLower(strings.TrimSpace(b.Protocol)) {
	case "http", "https", "ftp":
	default:
		return NewInputError(fmt.Sprintf("binding protocol %q is not one of http, https, ftp", b.Protocol), nil)
	}
	if b.Port == 0 {
		return NewInputError(fmt.Sprintf("binding %s has no port", b), nil)
	}
	return nil
}

// PermissionKey is the identity of an access rule.
type PermissionKey struct {
	Account string
	Access  string
	Type    string
}

// CanonicalAccount trims and lower-cases an account name.
func CanonicalAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// AccountMatches reports whether an observed account is the named account, either
// exactly or as "DOMAIN\name" for an unqualified name. Two qualified names match
// only when they are equal.
func AccountMatches(observed, name string) bool {
	o, n := CanonicalAccount(observed), CanonicalAccount(name)
	if n == "" {
		return false
	}
	if o == n {
		return true
	}
	if strings.Contains(n, `\`) {
		return false
	}
	return strings.HasSuffix(o, `\`+n)
}

// NormalizeAccess canonicalises a rights string. NTFS rights reported with a
// trailing Synchronize flag compare equal to the plain right, and the share
// right FullControl is the same as Full.
func NormalizeAccess(access string) string {
	parts := strings.Split(access, ",")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || p == "synchronize" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return strings.ToLower(strings.TrimSpace(access))
	}
	return strings.Join(kept, ", ")
}

// NormalizeShareAccess maps FullControl to Full and canonicalises case.
func NormalizeShareAccess(access string) string {
	a := NormalizeAccess(access)
	if a == "fullcontrol" {
		return "full"
	}
	return a
}

// NormalizeType defaults an empty rule type to allow.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "allow"
	}
	return t
}

// PermissionKeyOf derives the key of an NTFS entry.
func PermissionKeyOf(e PermissionEntry) PermissionKey {
	return PermissionKey{
		Account: CanonicalAccount(e.Account),
		Access:  NormalizeAccess(e.Access),
		Type:    NormalizeType(e.Type),
	}
}

// SharePermissionKeyOf derives the key of a share grant.
func SharePermissionKeyOf(e PermissionEntry) PermissionKey {
	k := PermissionKeyOf(e)
	k.Access = NormalizeShareAccess(e.Access)
	return k
}

// SelectRevocations returns the observed entries whose account is named in
// removeAccounts. Inherited entries are never selected.
func SelectRevocations(observed []PermissionEntry, removeAccounts []string) []PermissionEntry {
	var selected []PermissionEntry
	for _, entry := range observed {
		if entry.Inherited {
			continue
		}
		for _, name := range removeAccounts {
			if AccountMatches(entry.Account, name) {
				selected = append(selected, entry)
				break
			}
		}
	}
	return selected
}

// alignAccounts rewrites observed account names to the desired spelling when
// they match it, so "BUILTIN\Administrators" keys the same as "Administrators".
// Alignment needs one side unqualified; "CONTOSO\bob" never aligns with
// "FABRIKAM\bob".
func alignAccounts(observed []PermissionEntry, desired []PermissionEntry) []PermissionEntry {
	aligned := make([]PermissionEntry, len(observed))
	for i, entry := range observed {
		aligned[i] = entry
		for _, d := range desired {
			if AccountMatches(entry.Account, d.Account) || AccountMatches(d.Account, entry.Account) {
				aligned[i].Account = d.Account
				break
			}
		}
	}
	return aligned
}

// reconcilePermissions computes grants by set difference and revocations from the
// explicit removal list only.
func reconcilePermissions(
	desired, observed []PermissionEntry,
	removeAccounts []string,
	keyOf func(PermissionEntry) PermissionKey,
) SetDiff[PermissionEntry] {
	diff := Reconcile(desired, alignAccounts(observed, desired), keyOf)
	diff.ToRemove = SelectRevocations(observed, removeAccounts)
	return diff
}

// conflictingAccounts returns accounts listed both as grants and removals.
func conflictingAccounts(desired []PermissionEntry, removeAccounts []string) []string {
	var conflicts []string
	seen := make(map[string]struct{})
	for _, d := range desired {
		for _, name := range removeAccounts {
			if AccountMatches(d.Account, name) || AccountMatches(name, d.Account) {
				k := CanonicalAccount(d.Account)
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					conflicts = append(conflicts, d.Account)
				}
				break
			}
		}
	}
	return conflicts
}
