package testutil

import (
	"encoding/hex"
	"encoding/json"
	"reflect"
	"testing"
)

// AssertJSONEqual asserts that two JSON strings are semantically equal.
func AssertJSONEqual(t *testing.T, expected, actual string) {
	t.Helper()

	var expectedJSON, actualJSON interface{}

	if err := json.Unmarshal([]byte(expected), &expectedJSON); err != nil {
		t.Fatalf("failed to parse expected JSON: %v", err)
	}

	if err := json.Unmarshal([]byte(actual), &actualJSON); err != nil {
		t.Fatalf("failed to parse actual JSON: %v", err)
	}

	if !reflect.DeepEqual(expectedJSON, actualJSON) {
		expectedPretty, _ := json.MarshalIndent(expectedJSON, "", "  ")
		actualPretty, _ := json.MarshalIndent(actualJSON, "", "  ")
		t.Errorf("JSON not equal:\nExpected:\n%s\n\nActual:\n%s", expectedPretty, actualPretty)
	}
}

// AssertBytesEqual compares two buffers and reports the first differing offset with a hex dump
// of both around it.
func AssertBytesEqual(t *testing.T, expected, actual []byte) {
	t.Helper()
	n := len(expected)
	if len(actual) < n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		if expected[i] != actual[i] {
			lo := i - 16
			if lo < 0 {
				lo = 0
			}
			t.Errorf("buffers differ at offset %d:\nExpected:\n%s\nActual:\n%s",
				i, hex.Dump(expected[lo:min(len(expected), i+16)]), hex.Dump(actual[lo:min(len(actual), i+16)]))
			return
		}
	}
	if len(expected) != len(actual) {
		t.Errorf("buffer length mismatch: expected %d, got %d", len(expected), len(actual))
	}
}
