// Package taskdef resolves the normalized TaskDefinition for every
// (package, task-name) pair in a run: it merges global task definitions with
// package-local overrides, infers the child tasks implied by `npm run` /
// `concurrently` style script commands, and validates the symbolic
// dependency tokens the task graph builder will later expand.
package taskdef

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TaskOutputs splits a task's declared output globs into inclusions and
// exclusions (a leading `!` on a glob makes it an exclusion).
type TaskOutputs struct {
	Inclusions []string
	Exclusions []string
	// Declared is true when some override actually supplied an Outputs
	// field, even if it declared zero globs (`outputs: []`). It is what
	// distinguishes "this task produces no outputs" from "this task never
	// said anything about outputs" for cacheability purposes.
	Declared bool
}

// TaskDefinition is the normalized, per-(package,task) configuration the
// rest of the system consumes.
type TaskDefinition struct {
	// DependsOn are hard, ordering-significant dependency tokens:
	// `name`, `^name`, or `pkg#name`.
	DependsOn []string
	// Before/After are soft scheduling hints; they additionally accept the
	// wildcards `*` (every other task in the same package) and `^*` (every
	// task in each package this one directly depends on).
	Before []string
	After  []string
	// Children are derived task names this GroupTask fans out to, inferred
	// from script parsing. Specifying Children directly in an override is
	// an error (ErrExplicitChildren).
	Children []string
	// Script is true when this task corresponds to an actual command.
	// false marks a GroupTask (synthesized root task or parsed
	// concurrently/npm-run aggregate).
	Script bool
	// Command is the literal script command string, meaningful only when
	// Script is true.
	Command string

	Inputs  []string
	Outputs TaskOutputs

	// Cache is nil for "use the default" (cacheable), or an explicit
	// true/false opt in/out.
	Cache *bool
	// Persistent tasks (dev servers, watch tasks) never terminate on their
	// own and are never stored in the shared cache. Nothing rejects another
	// task depending on one.
	Persistent bool
}

// RawOverride is the shape a package-local task override arrives in before
// normalization: any field the package didn't specify is nil/zero and falls
// back to the global definition's value for that field.
type RawOverride struct {
	DependsOn  []string
	Before     []string
	After      []string
	Children   []string // explicit children in an override is always an error
	Script     *bool
	Command    string
	Inputs     []string
	Outputs    *TaskOutputs
	Cache      *bool
	Persistent *bool
}

const ellipsisToken = "..."

// defaultGlobal returns the zero-value global definition for a task name,
// applying the one named special case: "clean" tasks default to running
// before everything else in the package rather than after every dependent
// package's same-named task.
func defaultGlobal(taskName string) TaskDefinition {
	if taskName == "clean" {
		return TaskDefinition{
			DependsOn: []string{},
			Before:    []string{"*"},
			After:     []string{},
			Script:    true,
		}
	}
	return TaskDefinition{
		DependsOn: []string{},
		Before:    []string{},
		After:     []string{"^*"},
		Script:    true,
	}
}

// NormalizeGlobal expands a user-authored global task entry into full form,
// filling in defaults for anything left unset.
func NormalizeGlobal(taskName string, override *RawOverride) TaskDefinition {
	def := defaultGlobal(taskName)
	applyOverride(&def, override)
	return def
}

// ErrExplicitChildren is returned when a task override specifies Children
// directly; Children is always derived from script parsing.
type ErrExplicitChildren struct{ TaskName string }

func (e *ErrExplicitChildren) Error() string {
	return fmt.Sprintf("task %q: \"children\" cannot be set explicitly, it is always inferred from script commands", e.TaskName)
}

// ErrInvalidToken reports a dependency token that violates the grammar for
// the position it appeared in.
type ErrInvalidToken struct {
	TaskName string
	Field    string
	Token    string
	Reason   string
}

func (e *ErrInvalidToken) Error() string {
	return fmt.Sprintf("task %q: invalid %s token %q: %s", e.TaskName, e.Field, e.Token, e.Reason)
}

// ErrBeforeAfterOnNonScript is returned when a non-script (GroupTask)
// definition declares before/after edges, which is meaningless for a task
// that never itself runs.
type ErrBeforeAfterOnNonScript struct{ TaskName string }

func (e *ErrBeforeAfterOnNonScript) Error() string {
	return fmt.Sprintf("task %q: \"before\"/\"after\" are not allowed on a non-script task", e.TaskName)
}

// Resolve produces the normalized map of taskName -> TaskDefinition for one
// package, given the run-wide global definitions, this package's raw
// overrides, its declared scripts, and whether it is a release-group root
// with no turbo-config of its own.
func Resolve(
	globals map[string]RawOverride,
	localOverrides map[string]RawOverride,
	scripts map[string]string,
	requestedTasks []string,
	isUnconfiguredReleaseRoot bool,
) (map[string]TaskDefinition, error) {
	result := make(map[string]TaskDefinition)

	normalizedGlobals := make(map[string]TaskDefinition, len(globals))
	for name, ov := range globals {
		ov := ov
		if err := validateTokens(name, &ov, true); err != nil {
			return nil, err
		}
		normalizedGlobals[name] = NormalizeGlobal(name, &ov)
	}

	// Every global definition is a package-level default.
	for name, def := range normalizedGlobals {
		result[name] = def
	}

	// Package-local overrides replace the corresponding global entry,
	// after expanding any "..." token back to the matching global list.
	for name, raw := range localOverrides {
		raw := raw
		if raw.Children != nil {
			return nil, &ErrExplicitChildren{TaskName: name}
		}
		expandEllipsis(&raw, normalizedGlobals[name])

		if err := validateTokens(name, &raw, false); err != nil {
			return nil, err
		}

		base := normalizedGlobals[name]
		if existing, ok := result[name]; ok {
			base = existing
		}
		applyOverride(&base, &raw)
		result[name] = base
	}

	// A release-group root with no turbo-config of its own gets a
	// synthetic task per requested name: it simply fans out to the same
	// task in each package it depends on (`^name`).
	if isUnconfiguredReleaseRoot {
		for _, taskName := range requestedTasks {
			if _, ok := result[taskName]; ok {
				continue
			}
			result[taskName] = TaskDefinition{
				DependsOn: []string{"^" + taskName},
				Script:    false,
			}
		}
	}

	for name, def := range result {
		if !def.Script && (len(def.Before) > 0 || len(def.After) > 0) {
			return nil, &ErrBeforeAfterOnNonScript{TaskName: name}
		}
		def.Children = inferChildren(scripts, name)
		result[name] = def
	}

	return result, nil
}

// expandEllipsis replaces a literal "..." entry in any of the three
// dependency lists with the corresponding list from the global definition.
// Absent from the global definition, "..." is simply dropped (a no-op).
func expandEllipsis(raw *RawOverride, global TaskDefinition) {
	raw.DependsOn = expandList(raw.DependsOn, global.DependsOn)
	raw.Before = expandList(raw.Before, global.Before)
	raw.After = expandList(raw.After, global.After)
}

func expandList(tokens []string, globalList []string) []string {
	if tokens == nil {
		return nil
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == ellipsisToken {
			out = append(out, globalList...)
			continue
		}
		out = append(out, t)
	}
	return out
}

func applyOverride(def *TaskDefinition, raw *RawOverride) {
	if raw == nil {
		return
	}
	if raw.DependsOn != nil {
		def.DependsOn = raw.DependsOn
	}
	if raw.Before != nil {
		def.Before = raw.Before
	}
	if raw.After != nil {
		def.After = raw.After
	}
	if raw.Script != nil {
		def.Script = *raw.Script
	} else if raw.Command != "" {
		// A script-derived override that never says Script explicitly is
		// still a real command to run, not a group task: a task that only
		// exists because a package declared a matching script has no
		// reason to behave like a no-op fan-out.
		def.Script = true
	}
	if raw.Command != "" {
		def.Command = raw.Command
	}
	if raw.Inputs != nil {
		def.Inputs = raw.Inputs
	}
	if raw.Outputs != nil {
		def.Outputs = *raw.Outputs
		def.Outputs.Declared = true
	}
	if raw.Cache != nil {
		def.Cache = raw.Cache
	}
	if raw.Persistent != nil {
		def.Persistent = *raw.Persistent
	}
}

// validateTokens enforces the token grammar: `...` may only appear in
// per-package overrides; `*`/`^*` may only appear in before/after; `pkg#name`
// tokens may not appear in global definitions.
func validateTokens(taskName string, raw *RawOverride, isGlobal bool) error {
	checkDependsOn := func(tokens []string) error {
		for _, t := range tokens {
			if t == ellipsisToken {
				if isGlobal {
					return &ErrInvalidToken{taskName, "dependsOn", t, "\"...\" may only appear in a package-local override"}
				}
				continue
			}
			if t == "*" || t == "^*" {
				return &ErrInvalidToken{taskName, "dependsOn", t, "wildcard tokens are only allowed in before/after"}
			}
			if isGlobal && isPackageTaskToken(t) {
				return &ErrInvalidToken{taskName, "dependsOn", t, "\"pkg#name\" tokens may not appear in global definitions"}
			}
			if isPackageTaskToken(t) && !isWellFormedPackageTaskToken(t) {
				return &ErrInvalidToken{taskName, "dependsOn", t, "malformed \"pkg#name\" token"}
			}
		}
		return nil
	}
	checkSoft := func(field string, tokens []string) error {
		for _, t := range tokens {
			if t == ellipsisToken && isGlobal {
				return &ErrInvalidToken{taskName, field, t, "\"...\" may only appear in a package-local override"}
			}
			if isGlobal && isPackageTaskToken(t) {
				return &ErrInvalidToken{taskName, field, t, "\"pkg#name\" tokens may not appear in global definitions"}
			}
		}
		return nil
	}

	if err := checkDependsOn(raw.DependsOn); err != nil {
		return err
	}
	if err := checkSoft("before", raw.Before); err != nil {
		return err
	}
	if err := checkSoft("after", raw.After); err != nil {
		return err
	}
	return nil
}

func isPackageTaskToken(token string) bool {
	return strings.Contains(token, "#")
}

func isWellFormedPackageTaskToken(token string) bool {
	idx := strings.Index(token, "#")
	if idx <= 0 || idx == len(token)-1 {
		return false
	}
	return true
}

var (
	npmRunRe       = regexp.MustCompile(`^npm run ([A-Za-z0-9_:.\-]+)\s*$`)
	concurrentlyRe = regexp.MustCompile(`"npm:([A-Za-z0-9_:.\-]*)\*?"`)
)

// inferChildren parses a package's script commands looking for `npm run X`
// and `concurrently "npm:X*"` forms, returning the set of task names the
// GroupTask for taskName should fan out to. `npm run X` with trailing
// arguments is opaque (not recognized as a child); an unmatched
// `concurrently` wildcard prefix yields zero children, which is allowed.
func inferChildren(scripts map[string]string, taskName string) []string {
	command, ok := scripts[taskName]
	if !ok {
		return nil
	}

	children := make(map[string]bool)

	if m := npmRunRe.FindStringSubmatch(command); m != nil {
		children[m[1]] = true
	}

	for _, m := range concurrentlyRe.FindAllStringSubmatch(command, -1) {
		prefix := m[1]
		if strings.Contains(command, `"npm:`+prefix+`*"`) {
			for scriptName := range scripts {
				if scriptName != taskName && strings.HasPrefix(scriptName, prefix) {
					children[scriptName] = true
				}
			}
		} else if prefix != "" {
			children[prefix] = true
		}
	}

	if len(children) == 0 {
		return nil
	}
	out := make([]string, 0, len(children))
	for name := range children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
