package main

import (
	"testing"
	"time"
)

func TestBuildPlan(t *testing.T) {
	plan, err := buildPlan("2030-01-07", 5, "08:00-12:00", "10:00-10:30, ", "1,3", time.UTC)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if got := plan.To.Format(time.DateOnly); got != "2030-01-11" {
		t.Fatalf("expected last day 2030-01-11, got %s", got)
	}
	if len(plan.Breaks) != 1 || len(plan.Weekdays) != 2 || plan.Weekdays[1] != time.Wednesday {
		t.Fatalf("unexpected plan %+v", plan)
	}

	plan.Duration = time.Hour
	starts, err := plan.Starts(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("starts: %v", err)
	}
	// Monday and Wednesday: 08:00, 09:00 and 11:00 (10:00 overlaps the break).
	if len(starts) != 6 {
		t.Fatalf("expected 6 slots, got %d: %v", len(starts), starts)
	}
}

func TestBuildPlanRejectsBadInput(t *testing.T) {
	cases := []struct {
		from, hours, breaks, weekdays string
		days                          int
	}{
		{"07/01/2030", "08:00-12:00", "", "", 1},
		{"2030-01-07", "8h", "", "", 1},
		{"2030-01-07", "08:00-12:00", "lunch", "", 1},
		{"2030-01-07", "08:00-12:00", "", "7", 1},
		{"2030-01-07", "08:00-12:00", "", "", 0},
	}
	for _, tc := range cases {
		if _, err := buildPlan(tc.from, tc.days, tc.hours, tc.breaks, tc.weekdays, time.UTC); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}
