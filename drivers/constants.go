package drivers

import "time"

// Test execution constants
const (
	// DefaultGoBinary is the go binary used when no GoBinary setting is present
	DefaultGoBinary = "go"

	TestCommand   = "test"
	JSONFlag      = "-json"
	VerboseFlag   = "-v"
	TimeoutFlag   = "-timeout"
	CountFlag     = "-count"
	RunFlag       = "-run"
	ParallelFlag  = "-parallel"
	CurrentDir    = "."
	DisableCache  = "1"
	ArchX86       = "386"
	stopWaitDelay = 5 * time.Second

	// Test ids are "{packageID}-{n}": the assembly suite takes firstSuiteID
	// and tests are numbered from firstSuiteID+1 in discovery order.
	firstSuiteID = 1000

	defaultOutputTailBytes = 1024 * 1024
)

// test2json actions
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
	ActionPause  = "pause"
	ActionCont   = "cont"

	// ActionBuildOutput carries compiler output on toolchains that report
	// build failures through test2json
	ActionBuildOutput = "build-output"
)
