package model

// WorkspaceType represents the monorepo tooling that declared the workspace
type WorkspaceType string

const (
	// WorkspaceNone means the root is a single project.
	WorkspaceNone WorkspaceType = "none"
	// WorkspaceNpm is an npm "workspaces" field without a yarn lockfile.
	WorkspaceNpm WorkspaceType = "npm"
	// WorkspaceYarn is a "workspaces" field with a yarn.lock at the root.
	WorkspaceYarn WorkspaceType = "yarn"
	// WorkspacePnpm is declared by pnpm-workspace.yaml.
	WorkspacePnpm WorkspaceType = "pnpm"
	// WorkspaceLerna is declared by lerna.json.
	WorkspaceLerna WorkspaceType = "lerna"
)

// WorkspaceInfo describes a detected monorepo layout.
// Every entry of Packages is an absolute directory lexically inside RootPath.
type WorkspaceInfo struct {
	Type     WorkspaceType `json:"type"`
	RootPath string        `json:"rootPath"`
	Patterns []string      `json:"patterns"`
	Packages []string      `json:"packages"`
}

// IsWorkspace reports whether a monorepo layout was detected.
func (w *WorkspaceInfo) IsWorkspace() bool {
	return w != nil && w.Type != WorkspaceNone && w.Type != ""
}
