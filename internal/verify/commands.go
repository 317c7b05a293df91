package verify

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Commands maps each check to the shell command that runs it
type Commands map[types.CheckName]string

var nodeCommands = Commands{
	types.CheckLint:      "npm run lint",
	types.CheckTypecheck: "npx tsc --noEmit",
	types.CheckTest:      "npm test",
	types.CheckBuild:     "npm run build",
	types.CheckCoverage:  "npm test -- --coverage",
}

var goCommands = Commands{
	types.CheckLint:      "go vet ./...",
	types.CheckTypecheck: "go build -o /dev/null ./...",
	types.CheckTest:      "go test ./...",
	types.CheckBuild:     "go build ./...",
	types.CheckCoverage:  "go test -cover ./...",
}

var cargoCommands = Commands{
	types.CheckLint:      "cargo clippy -- -D warnings",
	types.CheckTypecheck: "cargo check",
	types.CheckTest:      "cargo test",
	types.CheckBuild:     "cargo build",
	types.CheckCoverage:  "cargo tarpaulin",
}

var pythonCommands = Commands{
	types.CheckLint:      "ruff check .",
	types.CheckTypecheck: "mypy .",
	types.CheckTest:      "python -m pytest",
	types.CheckBuild:     "python -m build",
	types.CheckCoverage:  "python -m pytest --cov",
}

// DetectCommands picks default check commands from the project files in
// path. Node projects prefer their own package.json scripts.
func DetectCommands(path string) Commands {
	switch {
	case hasFile(path, "package.json"):
		return nodeScripts(path)
	case hasFile(path, "go.mod"):
		return clone(goCommands)
	case hasFile(path, "Cargo.toml"):
		return clone(cargoCommands)
	case hasFile(path, "pyproject.toml"), hasFile(path, "setup.py"):
		return clone(pythonCommands)
	default:
		return clone(nodeCommands)
	}
}

// nodeScripts adjusts the npm defaults to the scripts package.json defines
func nodeScripts(path string) Commands {
	cmds := clone(nodeCommands)

	data, err := os.ReadFile(filepath.Join(path, "package.json"))
	if err != nil {
		return cmds
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return cmds
	}

	if _, ok := pkg.Scripts["typecheck"]; ok {
		cmds[types.CheckTypecheck] = "npm run typecheck"
	}
	if _, ok := pkg.Scripts["test:coverage"]; ok {
		cmds[types.CheckCoverage] = "npm run test:coverage"
	} else if _, ok := pkg.Scripts["coverage"]; ok {
		cmds[types.CheckCoverage] = "npm run coverage"
	}
	return cmds
}

// Merge returns c with overrides applied on top
func (c Commands) Merge(overrides map[string]string) Commands {
	out := clone(c)
	for name, cmd := range overrides {
		if cmd != "" {
			out[types.CheckName(name)] = cmd
		}
	}
	return out
}

func clone(c Commands) Commands {
	out := make(Commands, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
