package drivers

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/semver"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// ServiceConfig configures a DriverService
type ServiceConfig struct {
	Log      log.Logger
	GoBinary string
}

// DriverService hands out a GoTestDriver for every leaf it can run
type DriverService struct {
	log      log.Logger
	goBinary string
}

var _ Service = (*DriverService)(nil)

func NewDriverService(cfg ServiceConfig) *DriverService {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = DefaultGoBinary
	}
	return &DriverService{
		log:      cfg.Log.New("component", "driver-service"),
		goBinary: cfg.GoBinary,
	}
}

// GetDriver returns a *NotRunnableError when pkg cannot be run: the
// directory is missing, the analyzer could not read it, its module needs a
// newer Go than TargetRuntimeFramework, or it has no tests and
// SkipNonTestAssemblies is set.
func (s *DriverService) GetDriver(pkg *types.TestPackage) (Driver, error) {
	dir := pkg.FullName()
	invalid := func(format string, args ...any) error {
		return &NotRunnableError{Package: dir, Reason: fmt.Sprintf(format, args...)}
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, invalid("File not found: %s", dir)
		}
		return nil, invalid("%v", err)
	}
	if !info.IsDir() {
		return nil, invalid("%s is not a package directory", dir)
	}

	if reason := types.GetSetting(pkg, types.ImageAnalysisError, ""); reason != "" {
		return nil, invalid("%s", reason)
	}

	target := types.GetSetting(pkg, types.TargetRuntimeFramework, "")
	required := types.GetSetting(pkg, types.ImageGoVersion, "")
	if target != "" && required != "" {
		t, r := canonicalGoVersion(target), canonicalGoVersion(required)
		if !semver.IsValid(t) {
			return nil, invalid("unknown target runtime %q", target)
		}
		if semver.IsValid(r) && semver.Compare(t, r) < 0 {
			return nil, invalid("module requires go %s but the target runtime is %s", required, target)
		}
	}

	if types.GetSetting(pkg, types.SkipNonTestAssemblies, false) {
		if _, analyzed := pkg.Setting(types.ImageTestCount); analyzed && types.GetSetting(pkg, types.ImageTestCount, 0) == 0 {
			return nil, &NotRunnableError{Package: dir, Reason: "Skipping non-test package", Skipped: true}
		}
		if !HasTestFiles(dir) {
			return nil, &NotRunnableError{Package: dir, Reason: "Skipping non-test package", Skipped: true}
		}
	}

	goBinary := types.GetSetting(pkg, types.GoBinary, s.goBinary)
	s.log.Debug("Selected go test driver", "package", dir, "go", goBinary)
	return NewGoTestDriver(pkg.ID(), GoTestDriverConfig{
		Log:      s.log,
		GoBinary: goBinary,
	}), nil
}

// canonicalGoVersion turns "go1.22", "1.22.3" or "v1.22" into "v1.22.3"
// form accepted by semver
func canonicalGoVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "go")
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}
