// Package testutil provides import-boundary helpers shared by package
// tests. The probabilistic core keeps a strict layering: distributions
// know nothing about trial entities, entities know nothing about the
// engine, and public packages never reach into internal ones. These
// helpers let each package assert its own side of that contract.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// EntityImportForbidden matches the trial entity package. Distributions
// stay below entities in the layering.
func EntityImportForbidden(path string) bool {
	return strings.HasSuffix(path, "/pkg/domain")
}

// EngineImportForbidden matches the simulation engine package. Nothing
// outside the engine's callers may depend on it.
func EngineImportForbidden(path string) bool {
	return strings.HasSuffix(path, "/pkg/sim")
}

// InternalImportForbidden matches any internal package. Public pkg/
// packages must build without them.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// AnyOf combines predicates; the result matches when any of them does.
func AnyOf(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// AssertNoDirectImports parses every non-test .go file in dir
// (typically "." from within the package under test) and fails if any
// import path matches the forbidden predicate. Build tags are not
// followed.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(string) bool, reason string) {
	t.Helper()
	violations, err := scanDirectImports(dir, forbidden)
	if err != nil {
		t.Fatalf("scan imports in %s: %v", dir, err)
	}
	if len(violations) > 0 {
		t.Fatalf("layering violation (%s):\n%s", reason, strings.Join(violations, "\n"))
	}
}

// AssertNoTransitiveDependency resolves the full dependency closure of
// pattern via `go list -deps` and fails if any package in it matches
// the forbidden predicate.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(string) bool, reason string) {
	t.Helper()
	violations, out, err := transitiveViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	if len(violations) > 0 {
		t.Fatalf("layering violation (%s):\n%s", reason, strings.Join(violations, "\n"))
	}
}

// listDeps is swappable so the scanner can be tested without invoking
// the toolchain.
var listDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func transitiveViolations(pattern string, forbidden func(string) bool) ([]string, []byte, error) {
	out, err := listDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var violations []string
	for _, line := range strings.Split(string(out), "\n") {
		pkg := strings.TrimSpace(line)
		if pkg == "" {
			continue
		}
		if forbidden(pkg) {
			violations = append(violations, pkg)
		}
	}
	return violations, out, nil
}

func scanDirectImports(dir string, forbidden func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var violations []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		parsed, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range parsed.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				violations = append(violations, path+" (in "+name+")")
			}
		}
	}
	return violations, nil
}
