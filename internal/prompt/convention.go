package prompt

import (
	"fmt"
	"strings"
)

// branchPrefixes maps a branch prefix to a conventional commit type
var branchPrefixes = []struct {
	prefix     string
	commitType string
}{
	{"feature/", "feat"},
	{"feat/", "feat"},
	{"fix/", "fix"},
	{"bugfix/", "fix"},
	{"hotfix/", "fix"},
	{"chore/", "chore"},
	{"docs/", "docs"},
	{"refactor/", "refactor"},
	{"test/", "test"},
}

// CommitType derives the conventional commit type from a branch name
func CommitType(branch string) string {
	branch = strings.ToLower(strings.TrimSpace(branch))
	for _, bp := range branchPrefixes {
		if strings.HasPrefix(branch, bp.prefix) {
			return bp.commitType
		}
	}
	return "feat"
}

// CommitConvention renders the commit-message rule agents must follow
func CommitConvention(branch, taskID string) string {
	commitType := CommitType(branch)
	var b strings.Builder
	if branch != "" {
		fmt.Fprintf(&b, "Work on branch %s. ", branch)
	}
	fmt.Fprintf(&b, "Write commit messages as `%s(%s): <summary>`, ", commitType, taskID)
	b.WriteString("with a short imperative summary, so commits can be traced back to this task.")
	return b.String()
}
