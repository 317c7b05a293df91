package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// LoadPipelineFile reads a hand-written pipeline definition:
//
//	name: review-and-test
//	steps:
//	  - parallel: true
//	    agents:
//	      - type: reviewer
//	        model: opus
//	        prompt: Review the diff
//	      - type: tester
//	        prompt: Write missing tests
//
// Step numbers default to their position, agent types to "executor" and
// models to sonnet.
func LoadPipelineFile(path string) (*types.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes and normalises a YAML pipeline definition
func ParsePipeline(data []byte) (*types.Pipeline, error) {
	var p types.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}

	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("pipeline name is required: %w", types.ErrPreconditionFailed)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("pipeline %q has no steps: %w", p.Name, types.ErrPreconditionFailed)
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Step == 0 {
			step.Step = i + 1
		}
		if len(step.Agents) == 0 {
			return nil, fmt.Errorf("pipeline %q step %d has no agents: %w", p.Name, step.Step, types.ErrPreconditionFailed)
		}
		for j := range step.Agents {
			a := &step.Agents[j]
			if a.Type == "" {
				a.Type = "executor"
			}
			a.Model = types.ParseModel(strings.ToLower(string(a.Model)))
		}
	}

	return &p, nil
}
