package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

func TestLoadPipelineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	err := os.WriteFile(path, []byte(`
name: review-and-test
steps:
  - parallel: true
    agents:
      - type: reviewer
        model: Opus
        prompt: Review the diff
      - prompt: Write missing tests
  - step: 5
    agents:
      - type: docs
        model: gpt-4
        prompt: Update the changelog
`), 0o644)
	if err != nil {
		t.Fatalf("write pipeline file: %v", err)
	}

	p, err := LoadPipelineFile(path)
	if err != nil {
		t.Fatalf("LoadPipelineFile: %v", err)
	}

	if p.Name != "review-and-test" {
		t.Errorf("Name = %q", p.Name)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(p.Steps))
	}
	first := p.Steps[0]
	if first.Step != 1 || !first.Parallel {
		t.Errorf("first step = %d parallel=%v, want 1 parallel", first.Step, first.Parallel)
	}
	if first.Agents[0].Model != types.ModelOpus {
		t.Errorf("model %q not normalised to opus", first.Agents[0].Model)
	}
	if first.Agents[1].Type != "executor" || first.Agents[1].Model != types.ModelSonnet {
		t.Errorf("defaults not applied: %+v", first.Agents[1])
	}
	if p.Steps[1].Step != 5 || p.Steps[1].Agents[0].Model != types.ModelSonnet {
		t.Errorf("second step = %+v", p.Steps[1])
	}
}

func TestParsePipeline_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no name", "steps:\n  - agents:\n      - prompt: x\n"},
		{"no steps", "name: empty\n"},
		{"no agents", "name: x\nsteps:\n  - parallel: true\n"},
		{"bad yaml", "name: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePipeline([]byte(tt.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadPipelineFile_Missing(t *testing.T) {
	if _, err := LoadPipelineFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
