package verify

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// istanbul text summary: "All files |   85.3 |  70 | ..."
	istanbulRe = regexp.MustCompile(`All files\s*\|\s*([0-9]+(?:\.[0-9]+)?)`)
	// go test -cover: "coverage: 85.3% of statements"
	goCoverRe = regexp.MustCompile(`coverage:\s*([0-9]+(?:\.[0-9]+)?)% of statements`)
	percentRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
)

// ParseCoverage extracts a coverage percentage from a report. Go package
// lines are averaged without weighting by statement count; packages without
// test files are left out. Otherwise the last percentage in the output wins.
func ParseCoverage(output string) (float64, bool) {
	if m := istanbulRe.FindStringSubmatch(output); m != nil {
		return parsePercent(m[1])
	}

	if goCoverRe.MatchString(output) {
		if v, ok := goCoverage(output); ok {
			return v, true
		}
		return 0, true
	}

	if ms := percentRe.FindAllStringSubmatch(output, -1); len(ms) > 0 {
		return parsePercent(ms[len(ms)-1][1])
	}
	return 0, false
}

// goCoverage averages the tested packages of `go test -cover` output. When
// "ok" result lines are present only they count, which drops the 0.0% lines
// Go prints for untested packages and the duplicate lines of -v runs.
func goCoverage(output string) (float64, bool) {
	lines := strings.Split(output, "\n")
	okOnly := false
	for _, line := range lines {
		if strings.HasPrefix(line, "ok ") && goCoverRe.MatchString(line) {
			okOnly = true
			break
		}
	}

	var sum float64
	var n int
	for _, line := range lines {
		if strings.Contains(line, "[no test files]") {
			continue
		}
		if okOnly && !strings.HasPrefix(line, "ok ") {
			continue
		}
		m := goCoverRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, _ := parsePercent(m[1])
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func parsePercent(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
