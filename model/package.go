// Package model defines the data structures shared by the lockscan parsers, matcher and
// scanner, including resolved packages, CVE rules, findings and scan results.
package model

// ResolvedPackage is one installed package version as recorded by a lockfile or SBOM.
type ResolvedPackage struct {
	Version     string `json:"version"`
	ResolvedURL string `json:"resolved,omitempty"`  // Tarball URL or Berry resolution string
	Integrity   string `json:"integrity,omitempty"` // SRI hash or Berry checksum
}

// ResolvedPackageMap maps a package name (scoped names keep their @scope/name form)
// to the version the lockfile resolved it to.
type ResolvedPackageMap map[string]ResolvedPackage

// Version returns the resolved version for name and whether the name is present.
func (m ResolvedPackageMap) Version(name string) (string, bool) {
	pkg, ok := m[name]
	if !ok {
		return "", false
	}
	return pkg.Version, true
}

// SetIfAbsent records pkg under name unless the name is already present.
// It reports whether the entry was stored.
func (m ResolvedPackageMap) SetIfAbsent(name string, pkg ResolvedPackage) bool {
	if _, exists := m[name]; exists {
		return false
	}
	m[name] = pkg
	return true
}
