package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testengine/drivers"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

//go:embed manifest.schema.json
var manifestSchemaJSON []byte

var (
	manifestSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

// Manifest is the YAML document describing which packages make up a test run
type Manifest struct {
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings"`
	Packages []Entry        `yaml:"packages"`
}

// Entry is one manifest node: a package directory, a glob of package
// directories, or a named group of entries sharing settings.
type Entry struct {
	Path     string         `yaml:"path"`
	Glob     string         `yaml:"glob"`
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings"`
	Packages []Entry        `yaml:"packages"`
}

// Config contains registry configuration
type Config struct {
	Log          log.Logger
	ManifestFile string
}

// Registry loads the package manifest and turns it into a package tree
type Registry struct {
	config   Config
	baseDir  string
	manifest *Manifest
	mu       sync.RWMutex
}

// NewRegistry creates a registry and loads the manifest
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ManifestFile == "" {
		return nil, fmt.Errorf("manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	abs, err := filepath.Abs(cfg.ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	cfg.ManifestFile = abs

	r := &Registry{
		config:  cfg,
		baseDir: filepath.Dir(abs),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads and validates the manifest again. The previous manifest is
// kept when the new one is invalid.
func (r *Registry) Reload() error {
	manifest, err := loadManifest(r.config.ManifestFile)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	r.mu.Lock()
	r.manifest = manifest
	r.mu.Unlock()

	r.config.Log.Debug("Manifest loaded", "file", r.config.ManifestFile, "entries", len(manifest.Packages))
	return nil
}

// Name returns the manifest name, or the manifest file name when unset
func (r *Registry) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.manifest.Name != "" {
		return r.manifest.Name
	}
	return strings.TrimSuffix(filepath.Base(r.config.ManifestFile), filepath.Ext(r.config.ManifestFile))
}

// BuildPackage resolves every entry into package directories and returns
// the root of a new package tree. Entry settings are applied to the entry's
// node and inherited by everything below it that does not set them itself.
func (r *Registry) BuildPackage() (*types.TestPackage, error) {
	r.mu.RLock()
	manifest := r.manifest
	r.mu.RUnlock()

	root := types.NewCompositePackage()
	applySettings(root, manifest.Settings)
	for i, entry := range manifest.Packages {
		children, err := r.buildEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("packages[%d]: %w", i, err)
		}
		for _, child := range children {
			root.AddSubPackage(child)
		}
	}
	if !root.HasSubPackages() {
		return nil, errors.New("manifest does not name any package")
	}
	return root, nil
}

// Directories returns the directories of every package currently named by
// the manifest, in declaration order
func (r *Registry) Directories() ([]string, error) {
	pkg, err := r.BuildPackage()
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, leaf := range pkg.Leaves() {
		if leaf.FullName() != "" {
			dirs = append(dirs, leaf.FullName())
		}
	}
	return dirs, nil
}

// ManifestFile returns the absolute path of the manifest
func (r *Registry) ManifestFile() string {
	return r.config.ManifestFile
}

func (r *Registry) buildEntry(entry Entry) ([]*types.TestPackage, error) {
	switch {
	case entry.Path != "":
		pkg := types.NewTestPackage(r.resolve(entry.Path))
		applySettings(pkg, entry.Settings)
		return []*types.TestPackage{pkg}, nil

	case entry.Glob != "":
		dirs, err := r.expandGlob(entry.Glob)
		if err != nil {
			return nil, err
		}
		if len(dirs) == 0 {
			r.config.Log.Warn("Glob matched no test packages", "glob", entry.Glob)
		}
		pkgs := make([]*types.TestPackage, 0, len(dirs))
		for _, dir := range dirs {
			pkg := types.NewTestPackage(dir)
			applySettings(pkg, entry.Settings)
			pkgs = append(pkgs, pkg)
		}
		return pkgs, nil

	default:
		group := types.NewCompositePackage()
		applySettings(group, entry.Settings)
		for i, child := range entry.Packages {
			pkgs, err := r.buildEntry(child)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", groupName(entry), i, err)
			}
			for _, pkg := range pkgs {
				group.AddSubPackage(pkg)
			}
		}
		if !group.HasSubPackages() {
			return nil, nil
		}
		return []*types.TestPackage{group}, nil
	}
}

// expandGlob returns the directories below the manifest directory that
// match pattern and contain _test.go files, sorted
func (r *Registry) expandGlob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(r.baseDir), filepath.ToSlash(pattern))
	if err != nil {
		return nil, fmt.Errorf("expanding glob %q: %w", pattern, err)
	}

	var dirs []string
	for _, match := range matches {
		if ignoredDir(match) {
			continue
		}
		dir := filepath.Join(r.baseDir, filepath.FromSlash(match))
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if drivers.HasTestFiles(dir) {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (r *Registry) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(r.baseDir, filepath.FromSlash(path))
}

// ignoredDir reports whether any element of a slash separated path is one
// the go tool skips: testdata, vendor, or names starting with '.' or '_'
func ignoredDir(path string) bool {
	for _, elem := range strings.Split(path, "/") {
		if elem == "." || elem == "" {
			continue
		}
		if elem == "testdata" || elem == "vendor" || strings.HasPrefix(elem, ".") || strings.HasPrefix(elem, "_") {
			return true
		}
	}
	return false
}

func groupName(entry Entry) string {
	if entry.Name != "" {
		return entry.Name
	}
	return "packages"
}

func applySettings(pkg *types.TestPackage, settings map[string]any) {
	for key, value := range settings {
		pkg.AddSetting(key, value)
	}
}

func compileManifestSchema() error {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal manifest schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("manifest.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		manifestSchema, err = compiler.Compile("manifest.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile manifest schema: %w", err)
		}
	})
	return compileErr
}

// ValidateManifest checks YAML manifest data against the manifest schema
func ValidateManifest(data []byte) error {
	if err := compileManifestSchema(); err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	// Round trip through JSON so the validator sees JSON types only
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("converting manifest: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("converting manifest: %w", err)
	}

	if err := manifestSchema.Validate(v); err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	return nil
}

// loadManifest reads, validates and decodes a manifest file
func loadManifest(path string) (*Manifest, error) {
	log.Debug("Reading manifest file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file: %w", err)
	}
	if err := ValidateManifest(data); err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest file: %w", err)
	}
	return &manifest, nil
}
