package ping

import (
	"strings"
	"testing"
	"time"
)

var testValidator = Validator{
	MaxClockSkew: 15 * time.Minute,
	MaxAge:       30 * time.Minute,
}

func TestCheckTimestamp_NowIsValid(t *testing.T) {
	now := time.Now().UTC()
	valid, reason := testValidator.CheckTimestamp(now, now)
	if !valid {
		t.Errorf("Expected current timestamp to be valid, got reason: %s", reason)
	}
}

func TestCheckTimestamp_FutureBoundary(t *testing.T) {
	now := time.Now().UTC()

	// Exactly at the skew limit is still acceptable.
	valid, _ := testValidator.CheckTimestamp(now.Add(testValidator.MaxClockSkew), now)
	if !valid {
		t.Error("Timestamp exactly at now+skew should be valid")
	}

	valid, reason := testValidator.CheckTimestamp(now.Add(testValidator.MaxClockSkew+time.Second), now)
	if valid {
		t.Error("Timestamp one second past now+skew should be invalid")
	}
	if !strings.Contains(reason, "future") {
		t.Errorf("Expected future-dated reason, got %q", reason)
	}
}

func TestCheckTimestamp_AgeBoundary(t *testing.T) {
	now := time.Now().UTC()

	valid, _ := testValidator.CheckTimestamp(now.Add(-testValidator.MaxAge), now)
	if !valid {
		t.Error("Timestamp exactly MaxAge old should be valid")
	}

	valid, reason := testValidator.CheckTimestamp(now.Add(-testValidator.MaxAge-time.Second), now)
	if valid {
		t.Error("Timestamp one second older than MaxAge should be invalid")
	}
	if !strings.Contains(reason, "too old") {
		t.Errorf("Expected too-old reason, got %q", reason)
	}
}

func TestCheckTimestamp_ReasonReportsOverage(t *testing.T) {
	now := time.Now().UTC()
	_, reason := testValidator.CheckTimestamp(now.Add(-testValidator.MaxAge-90*time.Second), now)
	if !strings.Contains(reason, "90 seconds") {
		t.Errorf("Expected 90 second overage in reason, got %q", reason)
	}
}

func TestDwell(t *testing.T) {
	now := time.Now().UTC()

	// No accepted_at means no signal.
	if _, exceeded := Dwell(nil, now, time.Minute); exceeded {
		t.Error("Nil accepted_at should never exceed the threshold")
	}

	recent := now.Add(-10 * time.Second)
	if _, exceeded := Dwell(&recent, now, time.Minute); exceeded {
		t.Error("10s dwell should not exceed a 60s threshold")
	}

	stale := now.Add(-2 * time.Minute)
	dwell, exceeded := Dwell(&stale, now, time.Minute)
	if !exceeded {
		t.Error("2m dwell should exceed a 60s threshold")
	}
	if dwell != 2*time.Minute {
		t.Errorf("Expected 2m dwell, got %v", dwell)
	}
}

func TestRawPingValidate(t *testing.T) {
	base := RawPing{DeviceID: "abc123", Timestamp: time.Now(), Lat: 40.743, Lon: -73.989}

	if err := base.Validate(); err != nil {
		t.Errorf("Expected valid ping, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RawPing)
	}{
		{"empty device id", func(p *RawPing) { p.DeviceID = "" }},
		{"zero timestamp", func(p *RawPing) { p.Timestamp = time.Time{} }},
		{"latitude too high", func(p *RawPing) { p.Lat = 90.5 }},
		{"latitude too low", func(p *RawPing) { p.Lat = -91 }},
		{"longitude too high", func(p *RawPing) { p.Lon = 181 }},
		{"longitude too low", func(p *RawPing) { p.Lon = -180.01 }},
	}
	for _, tc := range cases {
		p := base
		tc.mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
