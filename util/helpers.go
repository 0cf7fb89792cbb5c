// Package util provides small helpers shared by the lockscan packages: environment lookups,
// file checks, package-url decoding and logger construction.
package util

import (
	"os"
	"strings"

	"github.com/package-url/packageurl-go"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// FileExists checks if a regular file exists
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

// DirExists checks if a directory exists
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FindFile returns the first existing file from a list of candidates
func FindFile(candidates []string) string {
	for _, candidate := range candidates {
		if FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// Contains checks if a string slice contains an item
func Contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ParsePURL parses a PURL string and returns the parsed PackageURL.
// Percent-escapes in the namespace, name and version are decoded.
func ParsePURL(purlStr string) (*packageurl.PackageURL, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// PURLPackageName returns the ecosystem package name of a parsed PURL.
// npm namespaces are scopes, so pkg:npm/%40types/node yields "@types/node".
func PURLPackageName(p *packageurl.PackageURL) string {
	if p == nil {
		return ""
	}
	if p.Namespace == "" {
		return p.Name
	}
	ns := p.Namespace
	if p.Type == packageurl.TypeNPM && !strings.HasPrefix(ns, "@") {
		ns = "@" + ns
	}
	return ns + "/" + p.Name
}

// GetBasePURL removes the version component from a PURL to create a base package identifier
// Example: pkg:npm/lodash@4.17.20 -> pkg:npm/lodash
func GetBasePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	base := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
	}

	return strings.ToLower(base.ToString()), nil
}

// NpmPURL builds the package-url for an npm package name and version.
func NpmPURL(name, version string) string {
	namespace := ""
	if strings.HasPrefix(name, "@") {
		if idx := strings.Index(name, "/"); idx > 0 {
			namespace = name[:idx]
			name = name[idx+1:]
		}
	}
	return packageurl.NewPackageURL(packageurl.TypeNPM, namespace, name, version, nil, "").ToString()
}
