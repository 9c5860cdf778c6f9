// Package cpgql builds CPGQL query strings for the Joern engine.
//
// Builders interpolate caller-supplied values into Scala string
// literals, so every value goes through Escape first. The builders are
// the only place in the codebase that assembles query text; tools and
// services never concatenate raw user input into a query themselves.
package cpgql

import (
	"fmt"
	"strings"
)

// DefaultLimit caps list-style queries so a single tool call cannot
// drag the whole graph across the wire.
const DefaultLimit = 50

// DefaultMaxFlows caps flow-tracking queries; path enumeration blows up
// quickly on real graphs.
const DefaultMaxFlows = 10

// pathElementCap bounds how many path elements a flow result carries.
const pathElementCap = 20

// Escape backslash-escapes `\` and `"` so s can sit inside a Scala
// double-quoted string literal.
func Escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Quote escapes and wraps s in double quotes.
func Quote(s string) string {
	return `"` + Escape(s) + `"`
}

// quoteRaw wraps an already-escaped fragment without escaping again.
func quoteRaw(s string) string {
	return `"` + s + `"`
}

// Prefix returns the CPG accessor for a project: plain `cpg` for the
// active project, or the workspace lookup form for a named one.
// workspace.project returns an Option, hence the .get chain.
func Prefix(project string) string {
	if project == "" {
		return "cpg"
	}
	return fmt.Sprintf(`workspace.project(%s).get.cpg.get`, Quote(project))
}

// ============================================================================
// PROJECT LIFECYCLE
// ============================================================================

// ImportCode builds the importCode call that parses a source tree into
// a CPG.
func ImportCode(path, project, language string) string {
	switch {
	case project != "" && language != "":
		return fmt.Sprintf(`importCode(inputPath=%s, projectName=%s, language=%s)`,
			Quote(path), Quote(project), Quote(language))
	case project != "":
		return fmt.Sprintf(`importCode(inputPath=%s, projectName=%s)`, Quote(path), Quote(project))
	default:
		return fmt.Sprintf(`importCode(%s)`, Quote(path))
	}
}

// ListProjects returns name and input path for every workspace project.
func ListProjects() string {
	return `workspace.projects.map(p => Map("name" -> p.name, "path" -> p.inputPath))`
}

// OpenProject switches the active project.
func OpenProject(name string) string {
	return fmt.Sprintf(`open(%s)`, Quote(name))
}

// DeleteProject removes a project from the workspace.
func DeleteProject(name string) string {
	return fmt.Sprintf(`delete(%s)`, Quote(name))
}

// ProjectExists checks whether a named project is present.
func ProjectExists(name string) string {
	return fmt.Sprintf(`workspace.project(%s).isDefined`, Quote(name))
}

// CPGLoaded checks whether the named project has a loaded CPG.
func CPGLoaded(name string) string {
	return fmt.Sprintf(`workspace.project(%s).flatMap(_.cpg).isDefined`, Quote(name))
}

// Help returns the engine's help text.
func Help() string { return "help" }

// ============================================================================
// FUNCTION QUERIES
// ============================================================================

// FunctionCode returns full details, including source code, for methods
// matching name exactly.
func FunctionCode(project, name string) string {
	return fmt.Sprintf(`%s.method.name(%s)
   .map(m => Map(
       "name" -> m.name,
       "signature" -> m.signature,
       "filename" -> m.filename,
       "lineNumber" -> m.lineNumber.getOrElse(-1),
       "lineNumberEnd" -> m.lineNumberEnd.getOrElse(-1),
       "code" -> m.code
   ))`, Prefix(project), Quote(name))
}

// ListFunctions lists up to limit methods, optionally filtered by a
// name substring.
func ListFunctions(project, filter string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	base := Prefix(project) + ".method"
	if filter != "" {
		base = fmt.Sprintf(`%s.method.name(%s)`, Prefix(project), quoteRaw(".*"+Escape(filter)+".*"))
	}
	return fmt.Sprintf(`%s
   .take(%d)
   .map(m => Map(
       "name" -> m.name,
       "filename" -> m.filename,
       "lineNumber" -> m.lineNumber.getOrElse(-1)
   ))`, base, limit)
}

// SearchCode searches node code by regex within a scope: methods,
// calls, identifiers, or all nodes.
func SearchCode(project, pattern, scope string, limit int) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	re := quoteRaw(".*" + Escape(pattern) + ".*")
	p := Prefix(project)

	var base string
	switch scope {
	case "methods":
		base = fmt.Sprintf(`%s.method.name(%s)`, p, re)
	case "calls":
		base = fmt.Sprintf(`%s.call.name(%s)`, p, re)
	case "identifiers":
		base = fmt.Sprintf(`%s.identifier.name(%s)`, p, re)
	default:
		base = fmt.Sprintf(`%s.all.code(%s)`, p, re)
	}
	return fmt.Sprintf(`%s.take(%d).map(n => Map(
    "code" -> n.code,
    "type" -> n.label,
    "file" -> n.file.name.headOption.getOrElse("unknown"),
    "line" -> n.lineNumber.getOrElse(-1)
))`, base, limit)
}

// ============================================================================
// CALL GRAPH
// ============================================================================

// Callers finds methods calling name. callIn yields the Call nodes, so
// results carry the call-site file and line rather than just the
// caller's definition.
func Callers(project, name string, depth int) string {
	if depth <= 1 {
		return fmt.Sprintf(`%s.method.name(%s)
   .callIn
   .map(c => Map(
       "name" -> c.method.name,
       "methodFullName" -> c.method.fullName,
       "signature" -> c.method.signature,
       "filename" -> c.file.name.headOption.getOrElse("<unknown>"),
       "lineNumber" -> c.lineNumber.getOrElse(-1),
       "code" -> c.code
   ))
   .dedup`, Prefix(project), Quote(name))
	}
	return fmt.Sprintf(`%s.method.name(%s)
   .repeat(_.caller)(_.maxDepth(%d))
   .dedup
   .map(m => Map(
       "name" -> m.name,
       "signature" -> m.signature,
       "filename" -> m.filename,
       "lineNumber" -> m.lineNumber.getOrElse(-1)
   ))`, Prefix(project), Quote(name), depth)
}

// Callees finds calls made inside name. Operator pseudo-calls are
// filtered out; external library callees often lack definitions, which
// is why this walks Call nodes instead of .callee.
func Callees(project, name string, depth int) string {
	if depth <= 1 {
		return fmt.Sprintf(`%s.method.name(%s)
   .call
   .filterNot(_.name.startsWith("<operator>"))
   .map(c => Map(
       "name" -> c.name,
       "methodFullName" -> c.methodFullName,
       "signature" -> c.signature,
       "filename" -> c.file.name.headOption.getOrElse("<unknown>"),
       "lineNumber" -> c.lineNumber.getOrElse(-1),
       "code" -> c.code
   ))
   .dedup`, Prefix(project), Quote(name))
	}
	return fmt.Sprintf(`%s.method.name(%s)
   .repeat(_.callee)(_.maxDepth(%d))
   .dedup
   .map(m => Map(
       "name" -> m.name,
       "signature" -> m.signature,
       "filename" -> m.filename,
       "lineNumber" -> m.lineNumber.getOrElse(-1)
   ))`, Prefix(project), Quote(name), depth)
}

// CallChain walks the call chain from name to maxDepth. up walks
// callers, otherwise callees. Per-hop depth is not recoverable from a
// repeat traversal, hence the "unknown" marker.
func CallChain(project, name string, maxDepth int, up bool) string {
	step := "_.callee"
	if up {
		step = "_.caller"
	}
	return fmt.Sprintf(`%s.method.name(%s)
   .repeat(%s)(_.maxDepth(%d))
   .dedup
   .map(m => Map(
       "name" -> m.name,
       "filename" -> m.filename,
       "depth" -> "unknown"
   ))`, Prefix(project), Quote(name), step, maxDepth)
}

// ============================================================================
// DATA FLOW
// ============================================================================

// FlowsBetween tracks flows from the parameters of sourceFn into the
// arguments of calls to sinkFn. Results carry the path head and tail
// plus a bounded element list.
func FlowsBetween(project, sourceFn, sinkFn string, maxFlows int) string {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	p := Prefix(project)
	return fmt.Sprintf(`{
  val source = %s.method.name(%s).parameter
  val sink = %s.call.name(%s).argument

  sink.reachableByFlows(source).take(%d).map { path =>
    val sourceNode = path.elements.head
    val sinkNode = path.elements.last
    Map(
      "source" -> Map(
          "code" -> sourceNode.code,
          "file" -> sourceNode.file.name.headOption.getOrElse("unknown"),
          "line" -> sourceNode.lineNumber.getOrElse(-1)
      ),
      "sink" -> Map(
          "code" -> sinkNode.code,
          "file" -> sinkNode.file.name.headOption.getOrElse("unknown"),
          "line" -> sinkNode.lineNumber.getOrElse(-1)
      ),
      "pathLength" -> path.elements.size,
      "path" -> path.elements.take(%d).map(e => Map(
          "type" -> e.label,
          "code" -> e.code,
          "line" -> e.lineNumber.getOrElse(-1)
      ))
    )
  }
}`, p, Quote(sourceFn), p, Quote(sinkFn), maxFlows, pathElementCap)
}

// VariableFlowTo tracks a named identifier into the arguments of
// calls to sinkFn.
func VariableFlowTo(project, variable, sinkFn string, maxFlows int) string {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	p := Prefix(project)
	return fmt.Sprintf(`{
  val source = %s.identifier.name(%s)
  val sink = %s.call.name(%s).argument

  sink.reachableByFlows(source).take(%d).map { path =>
    Map(
      "variable" -> %s,
      "source" -> Map(
          "code" -> path.elements.head.code,
          "file" -> path.elements.head.file.name.headOption.getOrElse("unknown"),
          "line" -> path.elements.head.lineNumber.getOrElse(-1)
      ),
      "sink" -> Map(
          "code" -> path.elements.last.code,
          "method" -> %s,
          "file" -> path.elements.last.file.name.headOption.getOrElse("unknown"),
          "line" -> path.elements.last.lineNumber.getOrElse(-1)
      ),
      "pathLength" -> path.elements.size
    )
  }
}`, p, Quote(variable), p, Quote(sinkFn), maxFlows, Quote(variable), Quote(sinkFn))
}

// VariableOccurrences lists where a named identifier appears when no
// sink is given.
func VariableOccurrences(project, variable string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxFlows
	}
	return fmt.Sprintf(`%s.identifier.name(%s)
   .take(%d)
   .map(i => Map(
       "variable" -> %s,
       "code" -> i.code,
       "type" -> i.typeFullName,
       "method" -> i.method.name,
       "file" -> i.file.name.headOption.getOrElse("unknown"),
       "line" -> i.lineNumber.getOrElse(-1)
   ))`, Prefix(project), Quote(variable), limit, Quote(variable))
}

// DataDependencies lists identifiers inside a method's AST. With a
// variable name it narrows to that identifier; otherwise it dedups by
// name and caps at 50.
func DataDependencies(project, fn, variable string) string {
	p := Prefix(project)
	if variable != "" {
		return fmt.Sprintf(`%s.method.name(%s)
   .ast.isIdentifier.name(%s)
   .map(i => Map(
       "variable" -> i.name,
       "code" -> i.code,
       "method" -> i.method.name,
       "file" -> i.file.name.headOption.getOrElse("unknown"),
       "line" -> i.lineNumber.getOrElse(-1),
       "type" -> i.typeFullName
   ))`, p, Quote(fn), Quote(variable))
	}
	return fmt.Sprintf(`%s.method.name(%s)
   .ast.isIdentifier
   .dedupBy(_.name)
   .take(%d)
   .map(i => Map(
       "variable" -> i.name,
       "code" -> i.code,
       "type" -> i.typeFullName,
       "file" -> i.file.name.headOption.getOrElse("unknown"),
       "line" -> i.lineNumber.getOrElse(-1)
   ))`, p, Quote(fn), DefaultLimit)
}

// ============================================================================
// TAINT ANALYSIS
// ============================================================================

// RuleFlows runs source/sink taint tracking for a named rule,
// annotating each finding with the rule's metadata. sourcePattern and
// sinkPattern are pre-escaped regex alternations (see Alternation).
func RuleFlows(project, ruleName, severity, cwe, description, sourcePattern, sinkPattern string, maxFlows int) string {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	p := Prefix(project)
	return fmt.Sprintf(`{
  val sources = %s.method.name(%s).parameter
  val sinks = %s.call.name(%s).argument

  sinks.reachableByFlows(sources).take(%d).map { path =>
    val sourceNode = path.elements.head
    val sinkNode = path.elements.last
    Map(
      "vulnerability" -> %s,
      "severity" -> %s,
      "cwe_id" -> %s,
      "description" -> %s,
      "source" -> Map(
          "code" -> sourceNode.code,
          "file" -> sourceNode.file.name.headOption.getOrElse("unknown"),
          "line" -> sourceNode.lineNumber.getOrElse(-1)
      ),
      "sink" -> Map(
          "code" -> sinkNode.code,
          "file" -> sinkNode.file.name.headOption.getOrElse("unknown"),
          "line" -> sinkNode.lineNumber.getOrElse(-1)
      ),
      "pathLength" -> path.elements.size
    )
  }
}`, p, quoteRaw("("+sourcePattern+")"), p, quoteRaw("("+sinkPattern+")"), maxFlows,
		Quote(ruleName), Quote(severity), Quote(cwe), Quote(description))
}

// CheckFlow runs source/sink taint tracking without rule metadata,
// for ad-hoc pattern pairs. Patterns are caller-supplied regexes and
// get escaped here, unlike RuleFlows whose patterns arrive
// pre-escaped.
func CheckFlow(project, sourcePattern, sinkPattern string, maxFlows int) string {
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	sourcePattern = Escape(sourcePattern)
	sinkPattern = Escape(sinkPattern)
	p := Prefix(project)
	return fmt.Sprintf(`{
  val sources = %s.method.name(%s).parameter
  val sinks = %s.call.name(%s).argument

  sinks.reachableByFlows(sources).take(%d).map { path =>
    val sourceNode = path.elements.head
    val sinkNode = path.elements.last
    Map(
      "source" -> Map(
          "code" -> sourceNode.code,
          "file" -> sourceNode.file.name.headOption.getOrElse("unknown"),
          "line" -> sourceNode.lineNumber.getOrElse(-1)
      ),
      "sink" -> Map(
          "code" -> sinkNode.code,
          "file" -> sinkNode.file.name.headOption.getOrElse("unknown"),
          "line" -> sinkNode.lineNumber.getOrElse(-1)
      ),
      "pathLength" -> path.elements.size,
      "path" -> path.elements.take(%d).map(e => Map(
          "type" -> e.label,
          "code" -> e.code,
          "line" -> e.lineNumber.getOrElse(-1)
      ))
    )
  }
}`, p, quoteRaw("("+sourcePattern+")"), p, quoteRaw("("+sinkPattern+")"), maxFlows, pathElementCap)
}

// Alternation joins names into a regex alternation for TaintFlows
// patterns. Names are escaped individually.
func Alternation(names []string) string {
	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = Escape(n)
	}
	return strings.Join(escaped, "|")
}

// ============================================================================
// CONTROL FLOW / EXPORT
// ============================================================================

// CFG emits the method's control flow graph in DOT form. No JSON here;
// the caller gets the raw digraph text.
func CFG(project, name string) string {
	return fmt.Sprintf(`%s.method.name(%s).dotCfg.head`, Prefix(project), Quote(name))
}

// Dominators emits the method's dominator tree in DOT form.
func Dominators(project, name string) string {
	return fmt.Sprintf(`%s.method.name(%s).dotDom.head`, Prefix(project), Quote(name))
}

// ControlStructures lists a method's control structures (IF, FOR, WHILE,
// SWITCH, ...) with code, line and file for each.
func ControlStructures(project, name string) string {
	return fmt.Sprintf(`%s.method.name(%s).controlStructure.map(cs => Map("type" -> cs.controlStructureType, "code" -> cs.code, "line" -> cs.lineNumber.getOrElse(-1), "file" -> cs.file.name.headOption.getOrElse("unknown")))`,
		Prefix(project), Quote(name))
}

// SaveCPG serializes the whole active graph to a file on the engine host.
// Format "bin" uses the engine's native save; "json" and "dot" pipe the
// serialized graph through the shell operator.
func SaveCPG(path, format string) string {
	switch format {
	case "json":
		return fmt.Sprintf(`cpg.toJson |> %s`, Quote(path))
	case "dot":
		return fmt.Sprintf(`cpg.toDot |> %s`, Quote(path))
	default:
		return fmt.Sprintf(`save(%s)`, Quote(path))
	}
}

// MethodCount and FileCount are cheap graph-size probes used by health
// reporting.
func MethodCount(project string) string { return Prefix(project) + ".method.size" }
func FileCount(project string) string   { return Prefix(project) + ".file.size" }
