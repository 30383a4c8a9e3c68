package types

// ResultState is the outcome written to the result attribute of a node
type ResultState string

const (
	ResultPassed       ResultState = "Passed"
	ResultFailed       ResultState = "Failed"
	ResultSkipped      ResultState = "Skipped"
	ResultWarning      ResultState = "Warning"
	ResultInconclusive ResultState = "Inconclusive"
)

// Labels refining a ResultState
const (
	LabelIgnored   = "Ignored"
	LabelInvalid   = "Invalid"
	LabelNoTests   = "NoTests"
	LabelError     = "Error"
	LabelCancelled = "Cancelled"
)

// Failure sites
const (
	SiteChild = "Child"
)

// RunState values
const (
	RunStateRunnable    = "Runnable"
	RunStateNotRunnable = "NotRunnable"
)

// Result node attribute names
const (
	AttrID            = "id"
	AttrName          = "name"
	AttrFullName      = "fullname"
	AttrType          = "type"
	AttrRunState      = "runstate"
	AttrResult        = "result"
	AttrLabel         = "label"
	AttrSite          = "site"
	AttrTestCaseCount = "testcasecount"
	AttrTotal         = "total"
	AttrPassed        = "passed"
	AttrFailed        = "failed"
	AttrWarnings      = "warnings"
	AttrInconclusive  = "inconclusive"
	AttrSkipped       = "skipped"
	AttrAsserts       = "asserts"
	AttrStartTime     = "start-time"
	AttrEndTime       = "end-time"
	AttrDuration      = "duration"
)

// Event and result element names
const (
	ElementTestRun            = "test-run"
	ElementTestSuite          = "test-suite"
	ElementTestCase           = "test-case"
	ElementStartRun           = "start-run"
	ElementStartSuite         = "start-suite"
	ElementStartTest          = "start-test"
	ElementUnhandledException = "unhandled-exception"
)

// Suite types
const (
	SuiteTypeAssembly            = "Assembly"
	SuiteTypeTestSuite           = "TestSuite"
	SuiteTypeParameterizedMethod = "ParameterizedMethod"
	SuiteTypeProject             = "Project"
)
