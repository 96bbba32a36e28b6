package agent

import (
	"strings"
	"testing"

	"github.com/sandwichfarm/nobo/internal/config"
)

func TestNoteQuality(t *testing.T) {
	tests := []struct {
		name    string
		content string
		low     bool
	}{
		{"substantive note", "a considered paragraph about something that took actual thought to write and says it plainly", false},
		{"near-empty note", "gm", true},
		{"hashtag spam", "check this out #a #b #c #d #e #f #g", true},
		{"link farm", "http://a.example http://b.example http://c.example buy now", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := noteQuality(tt.content)
			if score < 0 || score > 1 {
				t.Fatalf("score %v out of range", score)
			}
			if tt.low && score >= 0.5 {
				t.Errorf("expected a low score, got %v", score)
			}
			if !tt.low && score < 0.5 {
				t.Errorf("expected a decent score, got %v", score)
			}
		})
	}
}

func TestNoteQualityLongSpam(t *testing.T) {
	spam := strings.Repeat("#tag ", 100)
	if score := noteQuality(spam); score >= 0.5 {
		t.Errorf("hashtag-heavy content should score low, got %v", score)
	}
}

func TestSampledEngagementMutedAuthorNeverEngaged(t *testing.T) {
	cfg := &config.HomeFeed{ReactPercent: 100, RepostPercent: 100, QuotePercent: 100}

	for roll := 0; roll < 100; roll += 10 {
		if got := sampledEngagement(cfg, true, 1.0, roll); got != "" {
			t.Fatalf("muted author engaged with mode %q at roll %d", got, roll)
		}
	}

	if got := sampledEngagement(cfg, false, 1.0, 0); got == "" {
		t.Error("unmuted author with a perfect score should be engaged")
	}
}

func TestSampledEngagementScoreGates(t *testing.T) {
	cfg := &config.HomeFeed{ReactPercent: 15, RepostPercent: 5, QuotePercent: 2}

	if got := sampledEngagement(cfg, false, 0.4, 0); got != "" {
		t.Errorf("low-quality note should not be engaged, got %q", got)
	}
	// Score in [0.5, 0.7): amplifying modes downgrade to a reaction.
	if got := sampledEngagement(cfg, false, 0.6, 0); got != "reaction" {
		t.Errorf("mid-quality quote roll should downgrade to reaction, got %q", got)
	}
	if got := sampledEngagement(cfg, false, 0.9, 0); got != "quote" {
		t.Errorf("high-quality quote roll should quote, got %q", got)
	}
}

func TestChooseEngagement(t *testing.T) {
	// quote 2, repost 5, react 15: slices are [0,2), [2,7), [7,22)
	tests := []struct {
		roll int
		want string
	}{
		{0, "quote"},
		{1, "quote"},
		{2, "repost"},
		{6, "repost"},
		{7, "reaction"},
		{21, "reaction"},
		{22, ""},
		{99, ""},
	}
	for _, tt := range tests {
		if got := chooseEngagement(tt.roll, 2, 5, 15); got != tt.want {
			t.Errorf("chooseEngagement(%d) = %q, want %q", tt.roll, got, tt.want)
		}
	}

	if got := chooseEngagement(0, 0, 0, 0); got != "" {
		t.Errorf("all-zero percentages must never engage, got %q", got)
	}
}

func TestSampleKeys(t *testing.T) {
	set := map[string]struct{}{"a": {}, "b": {}, "c": {}, "d": {}}

	got := sampleKeys(set, 2)
	if len(got) != 2 {
		t.Errorf("sample size = %d, want 2", len(got))
	}
	for _, k := range got {
		if _, ok := set[k]; !ok {
			t.Errorf("sampled key %q not in the set", k)
		}
	}

	if got := sampleKeys(set, 10); len(got) != len(set) {
		t.Errorf("oversized sample should return all keys, got %d", len(got))
	}
	if got := sampleKeys(map[string]struct{}{}, 3); len(got) != 0 {
		t.Errorf("empty set should sample nothing, got %d", len(got))
	}
}
