package main

import "testing"

func TestRunTrackerExitCode(t *testing.T) {
	tests := []struct {
		name   string
		codes  []int
		want   int
		failed int64
	}{
		{"no runs", nil, exitOK, 0},
		{"all ok", []int{exitOK, exitOK}, exitOK, 0},
		{"one failed", []int{exitOK, exitFailed, exitOK}, exitFailed, 1},
		{"last failed", []int{exitOK, exitFailed}, exitFailed, 1},
		{"all failed", []int{exitFailed, exitFailed}, exitFailed, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runs runTracker
			for _, c := range tt.codes {
				runs.record(c)
			}
			if got := runs.exitCode(); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
			if runs.failed() != tt.failed || runs.total() != int64(len(tt.codes)) {
				t.Errorf("failed/total = %d/%d, want %d/%d", runs.failed(), runs.total(), tt.failed, len(tt.codes))
			}
		})
	}
}
