package db

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ID prefixes per entity kind
const (
	PrefixTask      = "task"
	PrefixEpic      = "epic"
	PrefixPRD       = "prd"
	PrefixNote      = "note"
	PrefixAgent     = "agent"
	PrefixPipeline  = "pipe"
	PrefixExecution = "exec"
	PrefixLog       = "log"
)

// idSuffixLen is the number of hex characters kept from a UUID
const idSuffixLen = 12

// taskIDPattern matches task IDs embedded in free text such as commit messages
var taskIDPattern = regexp.MustCompile(`\btask-[0-9a-f]{12}\b`)

// generateID returns a new ID like "task-3f2a9c01b7e4"
func generateID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, hex[:idSuffixLen])
}

// ParseID splits an ID into prefix and suffix
//
// Examples:
//
//	"task-3f2a9c01b7e4" -> ("task", "3f2a9c01b7e4", nil)
//	"invalid"           -> ("", "", error)
func ParseID(id string) (string, string, error) {
	prefix, suffix, ok := strings.Cut(id, "-")
	if !ok || prefix == "" || suffix == "" {
		return "", "", fmt.Errorf("invalid ID format: %s", id)
	}
	return prefix, suffix, nil
}

// HasPrefix reports whether id belongs to the entity kind named by prefix
func HasPrefix(id, prefix string) bool {
	p, _, err := ParseID(id)
	return err == nil && p == prefix
}

// ExtractTaskIDs returns the distinct task IDs mentioned in text, in order
func ExtractTaskIDs(text string) []string {
	matches := taskIDPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			ids = append(ids, m)
		}
	}
	return ids
}
