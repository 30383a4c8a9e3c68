package drivers

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// PackageAnalyzer inspects every leaf of a package tree once, recording the
// module, Go version and test count of each as Image* settings. The driver
// service uses those settings to decide whether a leaf can run.
type PackageAnalyzer struct {
	log log.Logger
}

func NewPackageAnalyzer(logger log.Logger) *PackageAnalyzer {
	if logger == nil {
		logger = log.New()
	}
	return &PackageAnalyzer{log: logger.New("component", "package-analyzer")}
}

// ApplyImageSettings analyzes each leaf of pkg. Failures are recorded in the
// ImageAnalysisError setting rather than returned.
func (a *PackageAnalyzer) ApplyImageSettings(pkg *types.TestPackage) {
	for _, leaf := range pkg.Leaves() {
		if leaf.FullName() == "" {
			continue
		}
		a.analyze(leaf)
	}
}

func (a *PackageAnalyzer) analyze(leaf *types.TestPackage) {
	dir := leaf.FullName()

	module, err := FindModule(dir)
	if err != nil {
		a.log.Debug("Package analysis failed", "package", dir, "err", err)
		leaf.AddSetting(types.ImageAnalysisError, err.Error())
		return
	}
	leaf.AddSetting(types.ImageModulePath, module.Path)
	leaf.AddSetting(types.ImageImportPath, module.ImportPath)
	if module.GoVersion != "" {
		leaf.AddSetting(types.ImageGoVersion, module.GoVersion)
	}

	tests, err := FindTestFunctions(dir)
	if err != nil {
		a.log.Debug("Test discovery failed", "package", dir, "err", err)
		leaf.AddSetting(types.ImageAnalysisError, err.Error())
		return
	}
	leaf.AddSetting(types.ImageTestCount, len(tests))

	a.log.Debug("Analyzed package",
		"package", dir,
		"module", module.Path,
		"go", module.GoVersion,
		"tests", len(tests))
}
