package disttest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWrapRecordsSuccess(t *testing.T) {
	before := len(Results())
	Wrap(t, func(t *testing.T) {})

	rs := Results()
	if len(rs) != before+1 {
		t.Fatalf("expected one new result, got %d", len(rs)-before)
	}
	last := rs[len(rs)-1]
	if last.Type != TypeSuccess || last.Name != t.Name() {
		t.Fatalf("unexpected result %+v", last)
	}
}

func TestWriteReport(t *testing.T) {
	Wrap(t, func(t *testing.T) {})

	file := filepath.Join(t.TempDir(), "report.json")
	if err := Write(file); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if rep.Summary.Passed < 1 || len(rep.Results) != rep.Summary.Passed+rep.Summary.Failed+rep.Summary.Panicked {
		t.Fatalf("inconsistent report %+v", rep.Summary)
	}
}

func TestFormatPanic(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"boom", "boom"},
		{os.ErrNotExist, "file does not exist"},
		{42, "42"},
	}
	for _, tc := range tests {
		if got := formatPanic(tc.in); got != tc.want {
			t.Errorf("formatPanic(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
