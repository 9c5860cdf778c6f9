package analysis

import (
	"context"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
)

// Finding is one taint-tracking result annotated with rule metadata.
type Finding struct {
	Vulnerability string       `json:"vulnerability"`
	Severity      string       `json:"severity"`
	CWE           string       `json:"cwe_id"`
	Description   string       `json:"description"`
	Source        FlowEndpoint `json:"source"`
	Sink          FlowEndpoint `json:"sink"`
	PathLength    int          `json:"pathLength"`
}

// RuleResult is the run_taint_rule response.
type RuleResult struct {
	Success         bool      `json:"success"`
	Rule            string    `json:"rule"`
	Severity        string    `json:"severity"`
	CWE             string    `json:"cwe_id"`
	Vulnerabilities []Finding `json:"vulnerabilities"`
	Count           int       `json:"count"`
	Project         string    `json:"project,omitempty"`
}

// ScanResult is the find_vulnerabilities response, aggregated over
// every rule that ran.
type ScanResult struct {
	Success         bool           `json:"success"`
	Vulnerabilities []Finding      `json:"vulnerabilities"`
	TotalCount      int            `json:"total_count"`
	Summary         map[string]int `json:"summary"`
	RulesChecked    int            `json:"rules_checked"`
	Project         string         `json:"project,omitempty"`
}

// FlowCheckResult is the check_taint_flow response.
type FlowCheckResult struct {
	Success       bool   `json:"success"`
	SourcePattern string `json:"source_pattern"`
	SinkPattern   string `json:"sink_pattern"`
	Tainted       bool   `json:"tainted"`
	Flows         []Flow `json:"flows"`
	Count         int    `json:"count"`
	Project       string `json:"project,omitempty"`
}

// Taint runs source/sink vulnerability detection against a CPG.
type Taint struct {
	runner Runner
}

// NewTaint builds a taint-analysis service over the executor.
func NewTaint(r Runner) *Taint {
	return &Taint{runner: r}
}

// AnalyzeWithRule runs one rule and returns its findings.
func (s *Taint) AnalyzeWithRule(ctx context.Context, project string, rule TaintRule, maxFlows int) (*RuleResult, error) {
	q := cpgql.RuleFlows(project, rule.Name, rule.Severity, rule.CWE, rule.Description,
		cpgql.Alternation(rule.Sources), cpgql.Alternation(rule.Sinks), maxFlows)

	var findings []Finding
	if err := s.runner.RunJSON(ctx, q, executor.Options{}, &findings); err != nil {
		return nil, err
	}
	return &RuleResult{
		Success:         true,
		Rule:            rule.Name,
		Severity:        rule.Severity,
		CWE:             rule.CWE,
		Vulnerabilities: findings,
		Count:           len(findings),
		Project:         project,
	}, nil
}

// AnalyzeByName runs the built-in rule with the given name.
func (s *Taint) AnalyzeByName(ctx context.Context, project, ruleName string, maxFlows int) (*RuleResult, error) {
	rule, err := RuleByName(ruleName)
	if err != nil {
		return nil, err
	}
	return s.AnalyzeWithRule(ctx, project, rule, maxFlows)
}

// FindVulnerabilities runs every matching rule and aggregates the
// findings. severity narrows the rule set when non-empty. A rule whose
// query fails is skipped; whole-codebase scans should not die on one
// bad pattern.
func (s *Taint) FindVulnerabilities(ctx context.Context, project, severity string, maxFlows int) (*ScanResult, error) {
	rules := Rules
	if severity != "" {
		rules = RulesBySeverity(severity)
	}

	res := &ScanResult{
		Success:         true,
		Vulnerabilities: []Finding{},
		Summary:         map[string]int{"CRITICAL": 0, "HIGH": 0, "MEDIUM": 0, "LOW": 0},
		RulesChecked:    len(rules),
		Project:         project,
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rr, err := s.AnalyzeWithRule(ctx, project, rule, maxFlows)
		if err != nil {
			continue
		}
		res.Vulnerabilities = append(res.Vulnerabilities, rr.Vulnerabilities...)
		res.Summary[rule.Severity] += rr.Count
	}
	res.TotalCount = len(res.Vulnerabilities)
	return res, nil
}

// CheckFlow tests an ad-hoc source/sink pattern pair. Patterns are
// regex alternations like "gets|scanf".
func (s *Taint) CheckFlow(ctx context.Context, project, sourcePattern, sinkPattern string, maxFlows int) (*FlowCheckResult, error) {
	q := cpgql.CheckFlow(project, sourcePattern, sinkPattern, maxFlows)

	var flows []Flow
	if err := s.runner.RunJSON(ctx, q, executor.Options{}, &flows); err != nil {
		return nil, err
	}
	return &FlowCheckResult{
		Success:       true,
		SourcePattern: sourcePattern,
		SinkPattern:   sinkPattern,
		Tainted:       len(flows) > 0,
		Flows:         flows,
		Count:         len(flows),
		Project:       project,
	}, nil
}
