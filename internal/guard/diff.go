package guard

import (
	"regexp"
	"strings"
)

// DiffVerdict is the scanner's overall assessment of a unified diff (spec
// §4.4 "Diff scanner").
type DiffVerdict string

const (
	DiffClean       DiffVerdict = "clean"
	DiffNeedsReview DiffVerdict = "needs_review"
	DiffBlocked     DiffVerdict = "blocked"
)

// DiffFinding is one issue the scanner located in an added line (or, for
// dependency headers, anywhere in the diff).
type DiffFinding struct {
	Category string
	Line     string
}

// DiffScanResult is the full output of ScanDiff.
type DiffScanResult struct {
	Verdict  DiffVerdict
	Findings []DiffFinding
}

var (
	diffCredentialRe = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]`)
	diffNetworkRe    = regexp.MustCompile(`(?i)\b(curl|wget|http\.(get|post)|requests\.(get|post)|fetch\()`)
	diffTraversalRe  = regexp.MustCompile(`\.\./|\.\.\\`)
	diffSystemCmdRe  = regexp.MustCompile(`(?i)\b(os\.system|subprocess\.|exec\(|Command\()`)
	diffDependencyRe = regexp.MustCompile(`(?i)^\+\+\+ .*/(go\.mod|package\.json|requirements\.txt|Cargo\.toml)$`)
)

// ScanDiff parses unified-diff text, scanning only added lines for
// credential access, network calls, path-traversal constructs, and
// system-command constructs; it scans the full diff for new-dependency
// headers. The verdict escalates from clean to needs_review to blocked
// based on finding count and the presence of injection patterns in added
// content.
func ScanDiff(diff string) DiffScanResult {
	var findings []DiffFinding
	injectionHit := false

	for _, line := range strings.Split(diff, "\n") {
		if diffDependencyRe.MatchString(line) {
			findings = append(findings, DiffFinding{Category: "new_dependency", Line: line})
			continue
		}
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		added := line[1:]

		switch {
		case diffCredentialRe.MatchString(added):
			findings = append(findings, DiffFinding{Category: "credential_access", Line: added})
		case diffNetworkRe.MatchString(added):
			findings = append(findings, DiffFinding{Category: "network_call", Line: added})
		case diffTraversalRe.MatchString(added):
			findings = append(findings, DiffFinding{Category: "path_traversal", Line: added})
		case diffSystemCmdRe.MatchString(added):
			findings = append(findings, DiffFinding{Category: "system_command", Line: added})
		}

		if len(DetectInjection(added)) > 0 {
			injectionHit = true
		}
	}

	verdict := DiffClean
	switch {
	case injectionHit || len(findings) >= 3:
		verdict = DiffBlocked
	case len(findings) > 0:
		verdict = DiffNeedsReview
	}

	return DiffScanResult{Verdict: verdict, Findings: findings}
}
