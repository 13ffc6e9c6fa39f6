package quote

import "strings"

// FamilyPrefix pairs a product family's exchange-code prefix with the alias
// suffixes that denote a near-month or next-month role within that family,
// rather than one pinned contract. An exchange code and a pseudo-symbol
// alias belong to the same family when they share Prefix.
type FamilyPrefix struct {
	Prefix       string
	RoleSuffixes []string
}

// isNearMonthAlias reports whether alias is a role-based pseudo-symbol in
// this family (§4.E "Alias resolution on callback").
func (f FamilyPrefix) isNearMonthAlias(alias string) bool {
	suffix, ok := strings.CutPrefix(alias, f.Prefix)
	if !ok {
		return false
	}
	for _, role := range f.RoleSuffixes {
		if suffix == role {
			return true
		}
	}
	return false
}

// FamilyPrefixes is the configurable table driving dynamic alias binding:
// operators extend it as new product families are onboarded. Longer,
// more specific prefixes should be listed before shorter ones they embed.
var FamilyPrefixes = []FamilyPrefix{
	{Prefix: "TMF", RoleSuffixes: []string{"R1", "R2"}},
	{Prefix: "ES", RoleSuffixes: []string{"R1", "R2"}},
	{Prefix: "CL", RoleSuffixes: []string{"R1", "R2"}},
}

// familyOf returns the first configured family whose prefix matches code.
func familyOf(code string) (FamilyPrefix, bool) {
	for _, f := range FamilyPrefixes {
		if strings.HasPrefix(code, f.Prefix) {
			return f, true
		}
	}
	return FamilyPrefix{}, false
}
