package discovery

import "testing"

func TestThresholdLowersAfterEmptyRounds(t *testing.T) {
	m := newDiscoveryMetrics(0.55, 0.35)

	if got := m.value(); got != 0.55 {
		t.Fatalf("baseline = %v, want 0.55", got)
	}

	// Two empty rounds: no change yet.
	m.recordRound(0, 0)
	m.recordRound(0, 0)
	if got := m.value(); got != 0.55 {
		t.Errorf("threshold moved after only two empty rounds: %v", got)
	}

	// Third empty round crosses the streak limit.
	m.recordRound(0, 0)
	if got := m.value(); got >= 0.55 {
		t.Errorf("threshold should drop after three empty rounds, got %v", got)
	}
}

func TestThresholdBoundedAtFloor(t *testing.T) {
	m := newDiscoveryMetrics(0.40, 0.35)

	for i := 0; i < 30; i++ {
		m.recordRound(0, 0)
	}
	if got := m.value(); got < 0.35 {
		t.Errorf("threshold %v fell below the floor", got)
	}
}

func TestProductiveRoundBreaksStreak(t *testing.T) {
	m := newDiscoveryMetrics(0.55, 0.35)

	m.recordRound(0, 0)
	m.recordRound(0, 0)
	m.recordRound(3, 2.1) // streak broken
	m.recordRound(0, 0)
	m.recordRound(0, 0)

	if got := m.value(); got != 0.55 {
		t.Errorf("threshold should be unchanged with the streak broken, got %v", got)
	}
}

func TestLifetimeCountersOnlyIncrement(t *testing.T) {
	m := newDiscoveryMetrics(0.55, 0.35)

	m.recordRound(0, 0)
	m.recordRound(2, 1.4)
	m.recordRound(0, 0)
	m.recordRound(0, 0)
	m.recordRound(1, 0.9)

	total, successful, withoutQuality, _ := m.stats()
	if total != 5 {
		t.Errorf("totalRounds = %d, want 5", total)
	}
	if successful != 2 {
		t.Errorf("successfulRounds = %d, want 2", successful)
	}
	// Empty rounds accumulate for the process lifetime even though the
	// productive round in between broke the relaxation streak.
	if withoutQuality != 3 {
		t.Errorf("roundsWithoutQuality = %d, want 3", withoutQuality)
	}
}

func TestAverageQualityScoreFoldsAcrossRounds(t *testing.T) {
	m := newDiscoveryMetrics(0.55, 0.35)

	m.recordRound(2, 1.6) // two interactions averaging 0.8
	m.recordRound(1, 0.5) // one more at 0.5

	_, _, _, avg := m.stats()
	want := (1.6 + 0.5) / 3
	if diff := avg - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("averageQualityScore = %v, want %v", avg, want)
	}

	// An empty round leaves the average untouched.
	m.recordRound(0, 0)
	if _, _, _, got := m.stats(); got != avg {
		t.Errorf("empty round changed the average: %v", got)
	}
}
