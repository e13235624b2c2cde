package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "mimir"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func pkgs(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = modulePath + "/" + n
	}
	return out
}

// frontEnds never reach past the engine.
var frontEndForbidden = pkgs(
	"internal/connection",
	"internal/loader",
	"internal/executor",
	"internal/combiner",
	"internal/app",
	"internal/client",
	"pkg/cli",
	"cmd",
)

var architectureRules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden:    pkgs("internal", "pkg", "cmd"),
		hint:         "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/mimirsql",
		forbidden: pkgs(
			"internal/registry", "internal/planner", "internal/combiner", "internal/executor",
			"internal/connection", "internal/engine", "internal/loader", "internal/api",
			"internal/pgwire", "internal/flightsql", "internal/app", "pkg/cli", "cmd",
		),
		hint: "mimirsql is a pure parser over domain types",
	},
	{
		sourcePrefix: modulePath + "/internal/registry",
		forbidden: pkgs(
			"internal/planner", "internal/combiner", "internal/executor", "internal/connection",
			"internal/engine", "internal/loader", "internal/api", "internal/pgwire",
			"internal/flightsql", "internal/app", "pkg/cli", "cmd",
		),
		hint: "registry depends on domain only; loading goes through domain.ConfigLoader",
	},
	{
		sourcePrefix: modulePath + "/internal/planner",
		forbidden: pkgs(
			"internal/combiner", "internal/executor", "internal/connection", "internal/engine",
			"internal/loader", "internal/api", "internal/pgwire", "internal/flightsql",
			"internal/app", "pkg/cli", "cmd",
		),
		hint: "planner only compiles SQL; it never executes",
	},
	{
		sourcePrefix: modulePath + "/internal/executor",
		forbidden: pkgs(
			"internal/combiner", "internal/connection", "internal/engine", "internal/loader",
			"internal/api", "internal/pgwire", "internal/flightsql", "internal/app", "pkg/cli", "cmd",
		),
		hint: "executor resolves connections through its Resolver",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden: pkgs(
			"internal/loader", "internal/api", "internal/pgwire", "internal/flightsql",
			"internal/middleware", "internal/client", "internal/app", "pkg/cli", "cmd",
		),
		hint: "engine should depend on domain and the query pipeline",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden:    append(pkgs("internal/pgwire", "internal/flightsql"), frontEndForbidden...),
		hint:         "api talks to the engine only",
	},
	{
		sourcePrefix: modulePath + "/internal/flightsql",
		forbidden:    append(pkgs("internal/api", "internal/pgwire", "internal/middleware"), frontEndForbidden...),
		hint:         "flightsql talks to the engine only",
	},
	{
		sourcePrefix: modulePath + "/internal/pgwire",
		forbidden: pkgs(
			"internal/api", "internal/flightsql", "internal/middleware", "internal/loader",
			"internal/executor", "internal/combiner", "internal/app", "internal/client", "pkg/cli", "cmd",
		),
		hint: "pgwire talks to the engine and its own scratch database",
	},
	{
		sourcePrefix: modulePath + "/internal/client",
		forbidden: pkgs(
			"internal/engine", "internal/connection", "internal/loader", "internal/registry",
			"internal/api", "internal/app", "pkg/cli", "cmd",
		),
		hint: "client only knows the wire contract",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden:    pkgs("internal/engine", "internal/connection", "internal/api", "internal/app"),
		hint:         "middleware is transport-only",
	},
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func internalRootDir() string {
	return filepath.Join(repoRootDir(), "internal")
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range architectureRules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func matchingForbiddenPrefix(importPath string, forbidden []string) string {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return prefix
		}
	}
	return ""
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}

func packageImportPath(file string) string {
	path := filepath.ToSlash(filepath.Dir(file))
	idx := strings.Index(path, "/internal/")
	if idx >= 0 {
		return modulePath + path[idx:]
	}
	return modulePath + "/" + path
}

func isTestFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func parseImports(t *testing.T, file string) []string {
	t.Helper()

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
	require.NoErrorf(t, err, "parse imports for %s", file)

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, "\""))
	}
	return imports
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
