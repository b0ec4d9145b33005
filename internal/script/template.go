package script

import (
	"regexp"
	"sort"
	"strconv"
)

// Placeholder names understood by lifecycle templates.
const (
	KeyID        = "id"
	KeyWorkspace = "workspace"
	KeySource    = "source"
	KeyOutput    = "output"
	KeyPath      = "path"
	KeyRun       = "run"
	KeyTest      = "test"
)

// KnownPlaceholders lists every placeholder the orchestrator can bind.
var KnownPlaceholders = []string{KeyID, KeyWorkspace, KeySource, KeyOutput, KeyPath, KeyRun, KeyTest}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Bindings maps placeholder names to their substitution values.
type Bindings map[string]string

// With returns a copy of b with key set to value. b is not modified.
func (b Bindings) With(key, value string) Bindings {
	out := make(Bindings, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	out[key] = value
	return out
}

// WithWorker returns a copy of b with the worker id and workspace bound.
func (b Bindings) WithWorker(id int, workspace string) Bindings {
	return b.With(KeyID, strconv.Itoa(id)).With(KeyWorkspace, workspace)
}

// Render substitutes every {name} present in bindings. Unbound placeholders
// are left as literal text, so rendering is idempotent for a fixed set of
// bindings whose values contain no placeholders.
func Render(template string, bindings Bindings) string {
	if template == "" || len(bindings) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := bindings[name]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names used by template, sorted.
func Placeholders(template string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UnknownPlaceholders returns placeholders in template that no stage can bind.
func UnknownPlaceholders(template string) []string {
	known := make(map[string]struct{}, len(KnownPlaceholders))
	for _, k := range KnownPlaceholders {
		known[k] = struct{}{}
	}
	var unknown []string
	for _, name := range Placeholders(template) {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}
