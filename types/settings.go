package types

import "time"

// Package setting keys
const (
	// MaxAgents bounds how many leaf packages run at the same time
	MaxAgents = "MaxAgents"
	// DisposeRunners tears down the per-package runners after each run
	DisposeRunners = "DisposeRunners"
	// RunAsX86 runs the test binaries with GOARCH=386
	RunAsX86 = "RunAsX86"
	// TargetRuntimeFramework is the Go release tests are expected to run on, e.g. "go1.22"
	TargetRuntimeFramework = "TargetRuntimeFramework"
	// SkipNonTestAssemblies skips packages without any _test.go files instead of running them
	SkipNonTestAssemblies = "SkipNonTestAssemblies"
	DefaultTimeout        = "DefaultTimeout"
	GoBinary              = "GoBinary"
	// NumberOfTestWorkers is passed to go test as -parallel
	NumberOfTestWorkers = "NumberOfTestWorkers"

	// Written by the package analyzer
	ImageGoVersion     = "ImageGoVersion"
	ImageModulePath    = "ImageModulePath"
	ImageImportPath    = "ImageImportPath"
	ImageTestCount     = "ImageTestCount"
	ImageAnalysisError = "ImageAnalysisError"
)

// GetSetting returns the setting stored under key converted to T, or def
// when the key is missing or holds a value of another type. Integer settings
// accept any integer kind and float64, since YAML and JSON decoding produce
// those. Duration settings also accept strings such as "30s".
func GetSetting[T any](p *TestPackage, key string, def T) T {
	raw, ok := p.Setting(key)
	return convertSetting(raw, ok, def)
}

// SettingFrom is GetSetting over a plain settings map, as handed to drivers
func SettingFrom[T any](settings map[string]any, key string, def T) T {
	raw, ok := settings[key]
	return convertSetting(raw, ok, def)
}

func convertSetting[T any](raw any, ok bool, def T) T {
	if !ok || raw == nil {
		return def
	}
	if v, ok := raw.(T); ok {
		return v
	}
	var out any
	switch any(def).(type) {
	case int:
		n, ok := toInt(raw)
		if !ok {
			return def
		}
		out = n
	case time.Duration:
		switch v := raw.(type) {
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return def
			}
			out = d
		default:
			n, ok := toInt(raw)
			if !ok {
				return def
			}
			out = time.Duration(n)
		}
	default:
		return def
	}
	return out.(T)
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}
