package target

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecentChangeRate_CountsOnlyWithinLearningWindow(t *testing.T) {
	now := time.Now()
	tgt := &PollingTarget{
		Adaptive: AdaptivePolicy{LearningWindow: time.Hour},
		ChangeHistory: []ChangeSample{
			{At: now.Add(-90 * time.Minute), Changed: true}, // outside the window, must not count
			{At: now.Add(-30 * time.Minute), Changed: true},
			{At: now.Add(-10 * time.Minute), Changed: false},
			{At: now.Add(-5 * time.Minute), Changed: true},
		},
	}

	assert.Equal(t, 2.0, tgt.RecentChangeRate(), "2 changes over a 1h window is a rate of 2/hour")
}

func TestRecentChangeRate_DefaultsWindowWhenUnconfigured(t *testing.T) {
	now := time.Now()
	tgt := &PollingTarget{
		ChangeHistory: []ChangeSample{
			{At: now.Add(-5 * time.Minute), Changed: true},
		},
	}

	assert.Equal(t, 1.0, tgt.RecentChangeRate())
}

func TestRecentChangeRate_NoHistoryIsZero(t *testing.T) {
	tgt := &PollingTarget{Adaptive: AdaptivePolicy{LearningWindow: time.Hour}}
	assert.Equal(t, 0.0, tgt.RecentChangeRate())
}

func TestFirstPageIDSet_OrderIndependent(t *testing.T) {
	a := FirstPageIDSet([]string{"x", "y", "z"})
	b := FirstPageIDSet([]string{"z", "x", "y"})
	assert.Equal(t, a, b)
}
