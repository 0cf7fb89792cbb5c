// Package model - ManifestDeclaration defines the subset of package.json the scanner reads.
package model

import (
	"encoding/json"
	"fmt"
)

// ManifestDeclaration holds the declared (unresolved) dependency information of a package.json
type ManifestDeclaration struct {
	Name            string            `json:"name,omitempty"`
	Version         string            `json:"version,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
	Workspaces      WorkspaceGlobs    `json:"workspaces,omitempty"`
}

// HasDependency reports whether name is declared in dependencies or devDependencies.
func (m *ManifestDeclaration) HasDependency(name string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// WorkspaceGlobs is the package.json "workspaces" field. npm and yarn classic accept a plain
// list of globs; yarn also accepts an object with a "packages" list.
type WorkspaceGlobs []string

// UnmarshalJSON accepts both the list and the {"packages": [...]} forms.
func (w *WorkspaceGlobs) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*w = list
		return nil
	}

	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("workspaces must be a list or an object with packages: %w", err)
	}
	*w = obj.Packages
	return nil
}
