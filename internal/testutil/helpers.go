package testutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// ErrTest is a generic test error.
var ErrTest = errors.New("test error")

// AssertEqual fails if got != want.
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// AssertNoError fails if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertContains fails if s does not contain substr.
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q to contain %q", s, substr)
	}
}

// AssertLen fails if len(s) != want.
func AssertLen[T any](t *testing.T, s []T, want int) {
	t.Helper()
	if len(s) != want {
		t.Fatalf("len() = %d, want %d", len(s), want)
	}
}

// AssertTrue fails with msg if b is false.
func AssertTrue(t *testing.T, b bool, msg string) {
	t.Helper()
	if !b {
		t.Fatalf("expected true: %s", msg)
	}
}

// AssertCode fails unless err carries the domain error code.
func AssertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := core.GetCode(err); got != code {
		t.Fatalf("error code = %q, want %q (%v)", got, code, err)
	}
}

// AssertNode fails unless the report holds a result for id with status.
// A non-empty errMsg must also match the recorded error exactly.
func AssertNode(t *testing.T, report *core.RunReport, id core.NodeID, status core.NodeStatus, errMsg string) core.NodeResult {
	t.Helper()
	res, ok := report.Results[id]
	if !ok {
		t.Fatalf("no result for node %s", id)
	}
	if res.Status != status {
		t.Fatalf("node %s status = %s, want %s (%+v)", id, res.Status, status, res)
	}
	if errMsg != "" && res.Error != errMsg {
		t.Fatalf("node %s error = %q, want %q", id, res.Error, errMsg)
	}
	return res
}
