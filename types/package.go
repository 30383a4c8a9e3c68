package types

import (
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
)

// nextPackageID is shared by every TestPackage created in this process
var nextPackageID atomic.Int64

// TestPackage describes one loadable unit (a Go package directory) or an
// anonymous composite grouping of sub-packages. Only leaves are ever handed
// to a driver; composites exist to group settings and results.
type TestPackage struct {
	id          string
	fullName    string
	subPackages []*TestPackage

	mu       sync.RWMutex
	settings map[string]any
}

// NewTestPackage creates a leaf package for the given directory
func NewTestPackage(path string) *TestPackage {
	return &TestPackage{
		id:       strconv.FormatInt(nextPackageID.Add(1), 10),
		fullName: path,
		settings: make(map[string]any),
	}
}

// NewCompositePackage creates an anonymous package with one leaf per path
func NewCompositePackage(paths ...string) *TestPackage {
	p := NewTestPackage("")
	for _, path := range paths {
		p.AddSubPackage(NewTestPackage(path))
	}
	return p
}

// ID returns the process-unique identifier, used to namespace test ids
func (p *TestPackage) ID() string {
	return p.id
}

// FullName returns the package path, empty for anonymous composites
func (p *TestPackage) FullName() string {
	return p.fullName
}

// Name returns the last element of FullName
func (p *TestPackage) Name() string {
	if p.fullName == "" {
		return ""
	}
	return filepath.Base(p.fullName)
}

// SubPackages returns the ordered child packages
func (p *TestPackage) SubPackages() []*TestPackage {
	out := make([]*TestPackage, len(p.subPackages))
	copy(out, p.subPackages)
	return out
}

// HasSubPackages reports whether p is a composite
func (p *TestPackage) HasSubPackages() bool {
	return len(p.subPackages) > 0
}

// AddSubPackage appends child and copies any setting of p that child does
// not define itself.
func (p *TestPackage) AddSubPackage(child *TestPackage) {
	p.subPackages = append(p.subPackages, child)
	for key, value := range p.Settings() {
		child.inherit(key, value)
	}
}

// AddSetting sets key on p and on every descendant
func (p *TestPackage) AddSetting(key string, value any) {
	p.mu.Lock()
	p.settings[key] = value
	p.mu.Unlock()
	for _, child := range p.subPackages {
		child.AddSetting(key, value)
	}
}

func (p *TestPackage) inherit(key string, value any) {
	p.mu.Lock()
	if _, ok := p.settings[key]; !ok {
		p.settings[key] = value
	}
	p.mu.Unlock()
	for _, child := range p.subPackages {
		child.inherit(key, value)
	}
}

// Setting returns the raw value stored under key
func (p *TestPackage) Setting(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.settings[key]
	return v, ok
}

// Settings returns a copy of the settings map
func (p *TestPackage) Settings() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.settings))
	for k, v := range p.settings {
		out[k] = v
	}
	return out
}

// Leaves returns the leaf packages under p in declaration order. A leaf
// returns itself.
func (p *TestPackage) Leaves() []*TestPackage {
	if !p.HasSubPackages() {
		return []*TestPackage{p}
	}
	var leaves []*TestPackage
	for _, child := range p.subPackages {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}
