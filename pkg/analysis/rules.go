// Package analysis provides call-graph, data-flow, and taint analysis
// services on top of the query executor. Each service shapes engine
// output into typed results suitable for direct JSON serialization.
package analysis

import "fmt"

// TaintRule pairs source patterns with sink patterns for taint
// tracking. Sources and Sinks are regex fragments joined into an
// alternation at query-build time.
type TaintRule struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"` // CRITICAL, HIGH, MEDIUM, LOW
	Sources     []string `json:"sources"`
	Sinks       []string `json:"sinks"`
	CWE         string   `json:"cwe_id"`
}

// ============================================================================
// SOURCE AND SINK CATEGORIES
// ============================================================================

// TaintSources groups known taint-source function names by category.
var TaintSources = map[string][]string{
	"user_input": {
		"gets", "scanf", "fscanf", "fgets",
		"getchar", "getc", "read", "recv",
		"recvfrom", "recvmsg",
		"getParameter", "getHeader", "getCookie",
		"getQueryString", "getInputStream",
		"argv", "getenv", "getopt",
	},
	"network_input": {
		"recv", "recvfrom", "recvmsg",
		"accept", "read", "readv",
		"HttpServletRequest.*",
	},
	"file_input": {
		"fread", "fgets", "fgetc", "fscanf",
		"read", "readFile", "readLine",
	},
	"database_input": {
		"executeQuery", "executeUpdate",
		"ResultSet.*", "getString", "getInt",
	},
}

// TaintSinks groups known taint-sink function names by category.
var TaintSinks = map[string][]string{
	"command_execution": {
		"system", "exec", "execl", "execle",
		"execlp", "execv", "execve", "execvp",
		"popen", "ShellExecute", "CreateProcess",
		"Runtime.exec", "ProcessBuilder.start",
	},
	"sql_query": {
		"execute", "executeQuery", "executeUpdate",
		"createStatement", "prepareStatement",
		"query", "rawQuery", "execSQL",
	},
	"file_operation": {
		"fopen", "open", "openFile",
		"FileInputStream", "FileOutputStream",
		"createFile", "deleteFile",
	},
	"memory_operation": {
		"strcpy", "strcat", "sprintf",
		"gets", "memcpy", "memmove",
	},
	"network_output": {
		"send", "sendto", "sendmsg",
		"write", "writev",
	},
	"logging": {
		"printf", "fprintf", "syslog",
		"log", "logger", "println",
	},
}

// ============================================================================
// BUILT-IN RULES
// ============================================================================

// Rules is the built-in vulnerability rule set.
var Rules = []TaintRule{
	{
		Name:        "Command Injection",
		Description: "Untrusted input reaches a command execution function unvalidated",
		Severity:    "CRITICAL",
		Sources:     TaintSources["user_input"],
		Sinks:       TaintSinks["command_execution"],
		CWE:         "CWE-78",
	},
	{
		Name:        "SQL Injection",
		Description: "Untrusted input is used in a SQL query unvalidated",
		Severity:    "CRITICAL",
		Sources:     TaintSources["user_input"],
		Sinks:       TaintSinks["sql_query"],
		CWE:         "CWE-89",
	},
	{
		Name:        "Path Traversal",
		Description: "Untrusted input is used as a file path unvalidated",
		Severity:    "HIGH",
		Sources:     TaintSources["user_input"],
		Sinks:       TaintSinks["file_operation"],
		CWE:         "CWE-22",
	},
	{
		Name:        "Buffer Overflow",
		Description: "Untrusted input may overflow a fixed-size buffer",
		Severity:    "HIGH",
		Sources:     TaintSources["user_input"],
		Sinks:       TaintSinks["memory_operation"],
		CWE:         "CWE-120",
	},
	{
		Name:        "Information Disclosure",
		Description: "Sensitive data may be logged or written out",
		Severity:    "MEDIUM",
		Sources:     append(TaintSources["database_input"], "password", "token", "secret"),
		Sinks:       TaintSinks["logging"],
		CWE:         "CWE-200",
	},
	{
		Name:        "Network Data Injection",
		Description: "Network input reaches a command execution function unvalidated",
		Severity:    "CRITICAL",
		Sources:     TaintSources["network_input"],
		Sinks:       TaintSinks["command_execution"],
		CWE:         "CWE-94",
	},
}

// RuleByName looks up a built-in rule.
func RuleByName(name string) (TaintRule, error) {
	for _, r := range Rules {
		if r.Name == name {
			return r, nil
		}
	}
	return TaintRule{}, fmt.Errorf("rule not found: %s", name)
}

// RulesBySeverity filters the built-in rules by severity.
func RulesBySeverity(severity string) []TaintRule {
	var out []TaintRule
	for _, r := range Rules {
		if r.Severity == severity {
			out = append(out, r)
		}
	}
	return out
}

// RuleSummary is the listing form of a rule, without the full pattern
// tables.
type RuleSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	CWE         string `json:"cwe_id"`
	SourceCount int    `json:"source_count"`
	SinkCount   int    `json:"sink_count"`
}

// ListRules summarizes the built-in rules.
func ListRules() []RuleSummary {
	out := make([]RuleSummary, 0, len(Rules))
	for _, r := range Rules {
		out = append(out, RuleSummary{
			Name:        r.Name,
			Description: r.Description,
			Severity:    r.Severity,
			CWE:         r.CWE,
			SourceCount: len(r.Sources),
			SinkCount:   len(r.Sinks),
		})
	}
	return out
}
