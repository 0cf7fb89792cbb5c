// Package manifest reads the package.json manifest of a project directory.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ortelius/lockscan/model"
)

// FileName is the manifest file name looked up in a project directory.
const FileName = "package.json"

// maxManifestSize bounds how much of a package.json is read.
const maxManifestSize = 10 << 20

// Read parses dir/package.json.
func Read(dir string) (*model.ManifestDeclaration, error) {
	return ReadFile(filepath.Join(dir, FileName))
}

// ReadFile parses the manifest at path.
func ReadFile(path string) (*model.ManifestDeclaration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("manifest %s is too large (%d bytes)", path, info.Size())
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var decl model.ManifestDeclaration
	if err := json.Unmarshal(content, &decl); err != nil {
		return nil, fmt.Errorf("manifest %s is not valid JSON: %w", path, err)
	}

	if decl.Dependencies == nil {
		decl.Dependencies = map[string]string{}
	}
	if decl.DevDependencies == nil {
		decl.DevDependencies = map[string]string{}
	}
	return &decl, nil
}
