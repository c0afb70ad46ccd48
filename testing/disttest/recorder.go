package disttest

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// ReportEnv names the file Main writes the report to. Unset means no report.
const ReportEnv = "DISTTEST_REPORT"

var (
	results []TestResult
	mu      sync.Mutex
)

// Wrap runs fn and records its outcome under the test's name.
func Wrap(t *testing.T, fn func(t *testing.T)) {
	name := t.Name()
	start := time.Now()

	defer func() {
		elapsed := time.Since(start).Milliseconds()

		mu.Lock()
		defer mu.Unlock()

		if r := recover(); r != nil {
			t.Fail()
			results = append(results, TestResult{
				Type:       TypePanic,
				Name:       name,
				DurationMs: elapsed,
				Panic:      formatPanic(r),
			})
			return
		}

		if t.Failed() {
			results = append(results, TestResult{
				Type:       TypeFailure,
				Name:       name,
				DurationMs: elapsed,
				Message:    "test failed",
			})
			return
		}

		results = append(results, TestResult{
			Type:       TypeSuccess,
			Name:       name,
			DurationMs: elapsed,
		})
	}()

	fn(t)
}

// Results returns a copy of what has been recorded so far.
func Results() []TestResult {
	mu.Lock()
	defer mu.Unlock()
	return append([]TestResult(nil), results...)
}

func Write(file string) error {
	mu.Lock()
	defer mu.Unlock()

	data, err := json.MarshalIndent(Report{Results: results, Summary: summarize(results)}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}

// Main runs the tests and writes the report named by ReportEnv. Use it from
// TestMain.
func Main(m *testing.M) {
	code := m.Run()
	if file := os.Getenv(ReportEnv); file != "" {
		if err := Write(file); err != nil {
			fmt.Fprintf(os.Stderr, "disttest: write report: %v\n", err)
			if code == 0 {
				code = 1
			}
		}
	}
	os.Exit(code)
}

func summarize(rs []TestResult) Summary {
	var s Summary
	for _, r := range rs {
		switch r.Type {
		case TypeSuccess:
			s.Passed++
		case TypeFailure:
			s.Failed++
		case TypePanic:
			s.Panicked++
		}
	}
	return s
}

func formatPanic(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return fmt.Sprintf("%v", x)
	}
}
