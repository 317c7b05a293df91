package db

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	id := generateID(PrefixTask)
	if !strings.HasPrefix(id, "task-") {
		t.Fatalf("generateID() = %q, want task- prefix", id)
	}
	if len(id) != len("task-")+idSuffixLen {
		t.Errorf("generateID() = %q, unexpected length %d", id, len(id))
	}
	if other := generateID(PrefixTask); other == id {
		t.Errorf("generateID() returned duplicate %q", id)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		id         string
		wantPrefix string
		wantSuffix string
		wantErr    bool
	}{
		{"task-3f2a9c01b7e4", "task", "3f2a9c01b7e4", false},
		{"exec-abc", "exec", "abc", false},
		{"invalid", "", "", true},
		{"-abc", "", "", true},
		{"task-", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			prefix, suffix, err := ParseID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if prefix != tt.wantPrefix || suffix != tt.wantSuffix {
				t.Errorf("ParseID(%q) = (%q, %q), want (%q, %q)", tt.id, prefix, suffix, tt.wantPrefix, tt.wantSuffix)
			}
		})
	}
}

func TestHasPrefix(t *testing.T) {
	if !HasPrefix("pipe-123", PrefixPipeline) {
		t.Error("expected pipe-123 to be a pipeline id")
	}
	if HasPrefix("task-123", PrefixPipeline) {
		t.Error("task-123 is not a pipeline id")
	}
}

func TestExtractTaskIDs(t *testing.T) {
	msg := "feat(task-0123456789ab): add parser\n\nRefs task-0123456789ab, task-ba9876543210"
	ids := ExtractTaskIDs(msg)
	if len(ids) != 2 {
		t.Fatalf("ExtractTaskIDs() = %v, want 2 ids", ids)
	}
	if ids[0] != "task-0123456789ab" || ids[1] != "task-ba9876543210" {
		t.Errorf("ExtractTaskIDs() = %v", ids)
	}

	if got := ExtractTaskIDs("task-0123456789abcd is too long"); len(got) != 0 {
		t.Errorf("expected no match for over-long id, got %v", got)
	}
}
