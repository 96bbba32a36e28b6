package discovery

import "sync"

// discoveryMetrics accumulates engagement outcomes for the process
// lifetime and drives the adaptive reply threshold. The named counters
// only ever increment; a restart resets everything to the configured
// baseline. The threshold relaxes one step per round once more than two
// consecutive rounds pass without a quality interaction, bounded at the
// floor, and a productive round breaks the streak without restoring the
// threshold.
type discoveryMetrics struct {
	mu sync.Mutex

	threshold float64
	floor     float64
	step      float64

	totalRounds          int
	successfulRounds     int
	roundsWithoutQuality int
	averageQualityScore  float64

	interactions int
	emptyStreak  int
}

func newDiscoveryMetrics(baseline, floor float64) *discoveryMetrics {
	return &discoveryMetrics{
		threshold: baseline,
		floor:     floor,
		step:      0.05,
	}
}

func (m *discoveryMetrics) value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// recordRound folds one round's outcome into the lifetime counters and
// adjusts the threshold for subsequent scoring. scoreSum is the summed
// candidate score of the round's quality interactions.
func (m *discoveryMetrics) recordRound(quality int, scoreSum float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRounds++

	if quality > 0 {
		m.successfulRounds++
		m.emptyStreak = 0

		prev := m.averageQualityScore * float64(m.interactions)
		m.interactions += quality
		m.averageQualityScore = (prev + scoreSum) / float64(m.interactions)
		return
	}

	m.roundsWithoutQuality++
	m.emptyStreak++
	if m.emptyStreak > 2 {
		m.threshold -= m.step
		if m.threshold < m.floor {
			m.threshold = m.floor
		}
	}
}

// stats returns a snapshot of the lifetime counters
func (m *discoveryMetrics) stats() (totalRounds, successfulRounds, roundsWithoutQuality int, averageQualityScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRounds, m.successfulRounds, m.roundsWithoutQuality, m.averageQualityScore
}
