package drivers

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/mod/modfile"
)

// categoryPrefix marks a doc comment line listing a test's categories:
//
//	// Category: Slow, Integration
//	func TestSettlement(t *testing.T) {
const categoryPrefix = "Category:"

// TestFunction is a top-level test discovered in a package directory
type TestFunction struct {
	Name       string
	File       string
	Categories []string
}

// ModuleInfo describes the module enclosing a package directory
type ModuleInfo struct {
	Path       string
	Dir        string
	GoVersion  string
	ImportPath string
}

// FindTestFunctions parses the _test.go files in dir and returns every
// Test function except TestMain, ordered by file name then position.
func FindTestFunctions(dir string) ([]TestFunction, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var tests []TestFunction
	fset := token.NewFileSet()
	for _, name := range names {
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}

		for _, decl := range f.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Recv != nil || !isTestName(funcDecl.Name.Name) {
				continue
			}
			tests = append(tests, TestFunction{
				Name:       funcDecl.Name.Name,
				File:       name,
				Categories: categories(funcDecl.Doc),
			})
		}
	}
	return tests, nil
}

// HasTestFiles reports whether dir directly contains a _test.go file
func HasTestFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), "_test.go") {
			return true
		}
	}
	return false
}

// isTestName follows the go test rule: "Test" followed by nothing or by a
// character that is not a lower-case letter.
func isTestName(name string) bool {
	if !strings.HasPrefix(name, "Test") || name == "TestMain" {
		return false
	}
	if len(name) == len("Test") {
		return true
	}
	r, _ := utf8.DecodeRuneInString(name[len("Test"):])
	return !unicode.IsLower(r)
}

func categories(doc *ast.CommentGroup) []string {
	if doc == nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, categoryPrefix) {
			continue
		}
		for _, c := range strings.Split(strings.TrimPrefix(line, categoryPrefix), ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// FindModule locates the go.mod enclosing dir and derives dir's import path
func FindModule(dir string) (*ModuleInfo, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	for current := absDir; ; {
		goModPath := filepath.Join(current, "go.mod")
		content, err := os.ReadFile(goModPath)
		if err == nil {
			modFile, err := modfile.Parse(goModPath, content, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to parse go.mod: %w", err)
			}
			if modFile.Module == nil || modFile.Module.Mod.Path == "" {
				return nil, fmt.Errorf("could not find module name in %s", goModPath)
			}
			info := &ModuleInfo{
				Path: modFile.Module.Mod.Path,
				Dir:  current,
			}
			if modFile.Go != nil {
				info.GoVersion = modFile.Go.Version
			}
			rel, err := filepath.Rel(current, absDir)
			if err != nil {
				return nil, err
			}
			info.ImportPath = info.Path
			if rel != "." {
				info.ImportPath = path.Join(info.Path, filepath.ToSlash(rel))
			}
			return info, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read go.mod: %w", err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, fmt.Errorf("no go.mod found for %s", absDir)
		}
		current = parent
	}
}
