package main

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestVerifyTokens(t *testing.T) {
	cases := []struct {
		name   string
		tokens []int
		base   int
		ok     bool
	}{
		{"permutation", []int{3, 1, 2}, 0, true},
		{"offset by earlier visits", []int{6, 5}, 4, true},
		{"duplicate", []int{1, 1, 2}, 0, false},
		{"gap", []int{1, 3}, 0, false},
		{"none", nil, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := verifyTokens(tc.tokens, tc.base)
			if (err == nil) != tc.ok {
				t.Fatalf("verifyTokens(%v, %d) = %v", tc.tokens, tc.base, err)
			}
		})
	}
}

func TestOperationMetricsRecord(t *testing.T) {
	var om OperationMetrics
	om.Record(time.Millisecond, http.StatusCreated, nil)
	om.Record(2*time.Millisecond, http.StatusConflict, nil)
	om.Record(3*time.Millisecond, 0, errors.New("dial tcp: refused"))

	if om.Total != 3 || om.Success != 1 || om.Conflict != 1 || om.Error != 1 {
		t.Fatalf("unexpected counts: total=%d success=%d conflict=%d error=%d", om.Total, om.Success, om.Conflict, om.Error)
	}
	avg, fastest, slowest, _, _ := om.Stats()
	if avg != 2*time.Millisecond || fastest != time.Millisecond || slowest != 3*time.Millisecond {
		t.Fatalf("unexpected stats avg=%s min=%s max=%s", avg, fastest, slowest)
	}
}
