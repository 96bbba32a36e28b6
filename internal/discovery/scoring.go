package discovery

import (
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// scoreCandidate rates a search result's relevance in [0, 1]. Topical
// fit dominates; recency and content shape break ties.
func (e *Engine) scoreCandidate(evt *nostr.Event, topic string) float64 {
	content := strings.ToLower(evt.Content)

	topical := 0.0
	if strings.Contains(content, strings.ToLower(topic)) {
		topical = 1.0
	} else if hasTag(evt, "t", topic) {
		topical = 0.7
	}

	matched := 0
	for _, kw := range e.cfg.RelevantKeywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			matched++
		}
	}
	keywords := float64(matched) / 3.0
	if keywords > 1 {
		keywords = 1
	}

	maxAge := time.Duration(e.cfg.MaxEventAgeHours) * time.Hour
	recency := 1.0 - time.Since(evt.CreatedAt.Time()).Seconds()/maxAge.Seconds()
	if recency < 0 {
		recency = 0
	}

	n := len(evt.Content)
	shape := 0.0
	switch {
	case n >= 60 && n <= 800:
		shape = 1.0
	case n > 800:
		shape = 0.4
	case n >= 20:
		shape = float64(n) / 60.0
	}

	return 0.40*topical + 0.25*keywords + 0.20*recency + 0.15*shape
}

func hasTag(evt *nostr.Event, name, value string) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name && strings.EqualFold(tag[1], value) {
			return true
		}
	}
	return false
}
