package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

const (
	MetricsNamespace = "testengine"
)

var (
	Debug                bool = true
	validResults              = []types.ResultState{types.ResultPassed, types.ResultFailed, types.ResultSkipped, types.ResultWarning, types.ResultInconclusive}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	driverErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "driver_errors_total",
		Help:      "Count of driver calls that failed or panicked",
	}, []string{
		"operation",
	})

	unitResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_results_total",
		Help:      "Count of package results produced by aggregating runners",
	}, []string{
		"result",
		"label",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs",
	}, []string{
		"result",
	})

	runTestCases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_cases_total",
		Help:      "Count of executed test cases by outcome",
	}, []string{
		"outcome",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"run_id",
	})

	runsInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_in_progress",
		Help:      "Number of runs currently executing",
	})

	forcedStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "forced_stops_total",
		Help:      "Count of runs that were forcibly stopped",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordDriverError counts a failed driver call. The package is logged but
// kept out of the labels to bound cardinality.
func RecordDriverError(operation string, pkg string, err error) {
	if Debug {
		log.Debug("metric inc",
			"m", "driver_errors_total",
			"operation", operation,
			"package", pkg,
			"err", err)
	}
	driverErrorsTotal.WithLabelValues(operation).Inc()
}

func RecordUnitResult(result types.ResultState, label string) {
	if !isValidResult(result) {
		log.Error("RecordUnitResult - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "unit_results_total",
			"result", result,
			"label", label)
	}
	unitResultsTotal.WithLabelValues(string(result), label).Inc()
}

func RecordRunStarted() {
	runsInProgress.Inc()
}

func RecordRun(
	runID string,
	result types.ResultState,
	passed int,
	failed int,
	skipped int,
	duration time.Duration,
) {
	runsInProgress.Dec()
	if isValidResult(result) {
		runsTotal.WithLabelValues(string(result)).Inc()
	}
	runTestCases.WithLabelValues("passed").Add(float64(passed))
	runTestCases.WithLabelValues("failed").Add(float64(failed))
	runTestCases.WithLabelValues("skipped").Add(float64(skipped))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func RecordForcedStop() {
	if Debug {
		log.Debug("metric inc", "m", "forced_stops_total")
	}
	forcedStopsTotal.Inc()
}

func isValidResult(result types.ResultState) bool {
	return slices.Contains(validResults, result)
}
