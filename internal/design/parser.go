// Package design turns a design agent's markdown plan into a DesignResult
// and flags steps that fall outside the task's epic.
package design

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

const (
	defaultAgentType = "executor"
)

var (
	sectionHeaderRe = regexp.MustCompile(`^##\s+(.+?)\s*#*\s*$`)
	stepHeaderRe    = regexp.MustCompile(`(?i)^###\s+(?:step|단계)\s*(\d+)\s*[:.)\-]?\s*(.*)$`)
	fieldRe         = regexp.MustCompile(`^\s*(?:[-*]\s+)?\*\*([^*]+?)\*\*\s*[:：]?\s*(.*)$`)
)

type section int

const (
	sectionNone section = iota
	sectionOverview
	sectionRisks
	sectionSuccess
	sectionOther
)

var sectionAliases = map[string]section{
	"overview":         sectionOverview,
	"개요":               sectionOverview,
	"risks":            sectionRisks,
	"risk":             sectionRisks,
	"위험 요소":            sectionRisks,
	"위험":               sectionRisks,
	"success criteria": sectionSuccess,
	"성공 기준":            sectionSuccess,
}

type field int

const (
	fieldUnknown field = iota
	fieldAgent
	fieldModel
	fieldParallel
	fieldDescription
	fieldPrompt
	fieldExpected
	fieldScope
	fieldScopeReason
)

var fieldAliases = map[string]field{
	"agent":           fieldAgent,
	"agent type":      fieldAgent,
	"에이전트":            fieldAgent,
	"model":           fieldModel,
	"모델":              fieldModel,
	"parallel":        fieldParallel,
	"병렬":              fieldParallel,
	"병렬 실행":           fieldParallel,
	"description":     fieldDescription,
	"설명":              fieldDescription,
	"prompt":          fieldPrompt,
	"프롬프트":            fieldPrompt,
	"expected output": fieldExpected,
	"예상 출력":           fieldExpected,
	"예상 결과":           fieldExpected,
	"scope":           fieldScope,
	"범위":              fieldScope,
	"scope reason":    fieldScopeReason,
	"범위 사유":           fieldScopeReason,
	"범위 이유":           fieldScopeReason,
}

func normalizeLabel(s string) string {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ":："))
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// stepBuilder accumulates the raw field values of one step block
type stepBuilder struct {
	number  int
	title   string
	values  map[field]*strings.Builder
	current field
}

func newStepBuilder(number int, title string) *stepBuilder {
	return &stepBuilder{number: number, title: strings.TrimSpace(title), values: make(map[field]*strings.Builder)}
}

func (sb *stepBuilder) start(f field, value string) {
	b := &strings.Builder{}
	b.WriteString(value)
	sb.values[f] = b
	sb.current = f
}

func (sb *stepBuilder) continueField(line string) {
	if sb.current == fieldUnknown {
		return
	}
	b := sb.values[sb.current]
	b.WriteString("\n")
	b.WriteString(line)
}

func (sb *stepBuilder) value(f field) string {
	if b, ok := sb.values[f]; ok {
		return strings.TrimSpace(b.String())
	}
	return ""
}

func (sb *stepBuilder) build() types.DesignStep {
	step := types.DesignStep{
		Number:         sb.number,
		Title:          sb.title,
		AgentType:      defaultAgentType,
		Model:          types.ModelSonnet,
		Description:    sb.value(fieldDescription),
		Prompt:         sb.value(fieldPrompt),
		ExpectedOutput: sb.value(fieldExpected),
		ScopeTag:       ParseScopeTag(sb.value(fieldScope)),
		ScopeReason:    sb.value(fieldScopeReason),
	}
	if agent := sb.value(fieldAgent); agent != "" {
		step.AgentType = strings.Trim(agent, "`")
	}
	if model := sb.value(fieldModel); model != "" {
		step.Model = types.ParseModel(strings.ToLower(strings.Trim(model, "`")))
	}
	step.Parallel = parseYes(sb.value(fieldParallel))
	return step
}

func parseYes(s string) bool {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), "`")) {
	case "yes":
		return true
	default:
		return false
	}
}

// ParseScopeTag normalises a scope label, falling back to in-scope
func ParseScopeTag(s string) types.ScopeTag {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), "`"))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	switch s {
	case "out-of-scope", "outofscope", "범위-외", "범위-밖":
		return types.ScopeOutOfScope
	case "partial", "partially", "부분":
		return types.ScopePartial
	default:
		return types.ScopeInScope
	}
}

// Parse extracts a DesignResult from markdown. It never fails: absent
// sections and fields fall back to defaults.
func Parse(markdown string) *types.DesignResult {
	result := &types.DesignResult{
		Steps:           []types.DesignStep{},
		Risks:           []string{},
		SuccessCriteria: []string{},
	}

	var (
		current  section
		overview []string
		step     *stepBuilder
	)

	flush := func() {
		if step != nil {
			result.Steps = append(result.Steps, step.build())
			step = nil
		}
	}

	for _, rawLine := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(rawLine, " \t")

		if m := stepHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			step = newStepBuilder(n, m[2])
			current = sectionNone
			continue
		}

		if m := sectionHeaderRe.FindStringSubmatch(line); m != nil {
			s, known := sectionAliases[normalizeLabel(m[1])]
			// Inside a step only a known section ends the block; other
			// headings belong to the field being written.
			if step == nil || known {
				flush()
				current = sectionOther
				if known {
					current = s
				}
				continue
			}
		}

		if step != nil {
			if m := fieldRe.FindStringSubmatch(line); m != nil {
				if f, ok := fieldAliases[normalizeLabel(m[1])]; ok {
					step.start(f, m[2])
					continue
				}
			}
			step.continueField(line)
			continue
		}

		switch current {
		case sectionOverview:
			overview = append(overview, line)
		case sectionRisks:
			if item, ok := listItem(line); ok {
				result.Risks = append(result.Risks, item)
			}
		case sectionSuccess:
			if item, ok := listItem(line); ok {
				result.SuccessCriteria = append(result.SuccessCriteria, item)
			}
		}
	}
	flush()

	result.Overview = strings.TrimSpace(strings.Join(overview, "\n"))
	return result
}

func listItem(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "-") {
		return "", false
	}
	item := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
	if item == "" {
		return "", false
	}
	return item, true
}
