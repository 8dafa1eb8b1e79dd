package dates

import (
	"testing"
	"time"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestNormalizeUsesCanonicalZone(t *testing.T) {
	loc := mustLoad(t, "America/Sao_Paulo")
	// 01:30 UTC on Feb 15 is still Feb 14 in Sao Paulo (UTC-3).
	instant := time.Date(2024, 2, 15, 1, 30, 0, 0, time.UTC)
	got := Normalize(instant, loc)
	want := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestMidnightIn(t *testing.T) {
	loc := mustLoad(t, "America/Sao_Paulo")
	date := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	got := MidnightIn(date, loc)
	if got.UTC() != time.Date(2024, 2, 15, 3, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected local midnight %v", got.UTC())
	}
}

func TestAddMonthsClamped(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if got := AddMonthsClamped(jan31, 1, 31); got.Day() != 29 || got.Month() != time.February {
		t.Fatalf("expected Feb 29, got %v", got)
	}
	if got := AddMonthsClamped(jan31, 2, 31); got.Day() != 31 || got.Month() != time.March {
		t.Fatalf("expected Mar 31, got %v", got)
	}
	dec := time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC)
	if got := AddMonthsClamped(dec, 1, 10); got.Year() != 2025 || got.Month() != time.January {
		t.Fatalf("expected Jan 2025, got %v", got)
	}
}

func TestParseAndFormat(t *testing.T) {
	date, err := Parse("2024-03-10")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Format(date) != "2024-03-10" {
		t.Fatalf("unexpected format %s", Format(date))
	}
	if _, err := Parse("10/03/2024"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := DaysBetween(a, b); got != 69 {
		t.Fatalf("expected 69 days, got %d", got)
	}
}
