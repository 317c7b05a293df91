// Package git finds the commits an agent made for a task
package git

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// field and record separators for git log output
const (
	fieldSep  = "\x1f"
	logFormat = "--format=%H%x1f%s%x1f%an%x1f%ct"
)

// CommitScanner lists the commits in a working copy that belong to a task
type CommitScanner struct {
	gitPath string
	verbose bool // Enable verbose logging
}

// NewCommitScanner creates a scanner using the git binary on PATH
func NewCommitScanner() *CommitScanner {
	return &CommitScanner{gitPath: "git"}
}

// SetVerbose enables or disables verbose logging
func (s *CommitScanner) SetVerbose(v bool) {
	s.verbose = v
}

// IsRepo reports whether path is inside a git working tree
func (s *CommitScanner) IsRepo(ctx context.Context, path string) bool {
	out, err := s.git(ctx, path, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Scan returns commits whose message mentions the task id, plus commits
// on the task branch that are not yet on HEAD. Each hash appears once.
func (s *CommitScanner) Scan(ctx context.Context, repoPath string, task *types.Task) ([]types.TaskCommit, error) {
	if !s.IsRepo(ctx, repoPath) {
		return nil, fmt.Errorf("%s is not a git repository", repoPath)
	}

	out, err := s.git(ctx, repoPath, "log", "--all", "--fixed-strings", "--grep="+task.ID, logFormat)
	if err != nil {
		return nil, fmt.Errorf("scanning commits for %s: %w", task.ID, err)
	}
	commits := parseLog(task.ID, out)

	if task.BranchName != "" {
		branchOut, err := s.git(ctx, repoPath, "log", "HEAD.."+task.BranchName, logFormat)
		if err != nil {
			// a branch the agent never created is not an error
			if s.verbose {
				log.Printf("📭 Branch %s not found for task %s", task.BranchName, task.ID)
			}
		} else {
			commits = mergeCommits(commits, parseLog(task.ID, branchOut))
		}
	}

	if s.verbose {
		log.Printf("🔍 Found %d commits for task %s", len(commits), task.ID)
	}
	return commits, nil
}

func (s *CommitScanner) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, s.gitPath, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", args[0], err, output)
	}
	return string(output), nil
}

func parseLog(taskID, output string) []types.TaskCommit {
	var commits []types.TaskCommit
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		parts := strings.Split(line, fieldSep)
		if len(parts) != 4 {
			continue
		}
		ts, _ := strconv.ParseInt(parts[3], 10, 64)
		commits = append(commits, types.TaskCommit{
			TaskID:      taskID,
			Hash:        parts[0],
			Subject:     parts[1],
			Author:      parts[2],
			CommittedAt: ts,
		})
	}
	return commits
}

func mergeCommits(a, b []types.TaskCommit) []types.TaskCommit {
	seen := make(map[string]bool, len(a))
	for _, c := range a {
		seen[c.Hash] = true
	}
	for _, c := range b {
		if !seen[c.Hash] {
			seen[c.Hash] = true
			a = append(a, c)
		}
	}
	return a
}
