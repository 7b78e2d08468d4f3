// Package behavior accumulates access frequency, time-of-day and navigation
// statistics and turns them into a bias for preload ranking.
package behavior

import (
	"sort"
	"time"
)

// The profile is persisted as one offline-data entry.
const (
	ProfileKey  = "user_behavior_profile"
	ProfileType = "behavior"
)

// Profile is the persisted behavior state. NavigationPatterns holds a sorted
// set of successors per url.
type Profile struct {
	FrequentlyAccessed map[string]int       `json:"frequentlyAccessed"`
	NavigationPatterns map[string][]string  `json:"navigationPatterns"`
	TimeBasedAccess    map[string][24]int   `json:"timeBasedAccess"`
	LastAccess         map[string]time.Time `json:"lastAccess"`
}

// NewProfile returns an empty profile.
func NewProfile() Profile {
	return Profile{
		FrequentlyAccessed: map[string]int{},
		NavigationPatterns: map[string][]string{},
		TimeBasedAccess:    map[string][24]int{},
		LastAccess:         map[string]time.Time{},
	}
}

// normalize fills nil maps left by decoding older or partial profiles.
func (p *Profile) normalize() {
	if p.FrequentlyAccessed == nil {
		p.FrequentlyAccessed = map[string]int{}
	}
	if p.NavigationPatterns == nil {
		p.NavigationPatterns = map[string][]string{}
	}
	if p.TimeBasedAccess == nil {
		p.TimeBasedAccess = map[string][24]int{}
	}
	if p.LastAccess == nil {
		p.LastAccess = map[string]time.Time{}
	}
}

func (p Profile) clone() Profile {
	c := NewProfile()
	for k, v := range p.FrequentlyAccessed {
		c.FrequentlyAccessed[k] = v
	}
	for k, v := range p.NavigationPatterns {
		c.NavigationPatterns[k] = append([]string(nil), v...)
	}
	for k, v := range p.TimeBasedAccess {
		c.TimeBasedAccess[k] = v
	}
	for k, v := range p.LastAccess {
		c.LastAccess[k] = v
	}
	return c
}

// addEdge inserts to into from's successor set. Reports whether it was new.
func (p *Profile) addEdge(from, to string) bool {
	succ := p.NavigationPatterns[from]
	i := sort.SearchStrings(succ, to)
	if i < len(succ) && succ[i] == to {
		return false
	}
	succ = append(succ, "")
	copy(succ[i+1:], succ[i:])
	succ[i] = to
	p.NavigationPatterns[from] = succ
	return true
}

// URLCount is an access count for one url.
type URLCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// Edge is one observed navigation.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Summary is a read-only digest of the profile.
type Summary struct {
	TrackedURLs int        `json:"tracked_urls"`
	TopURLs     []URLCount `json:"top_urls"`
	Edges       []Edge     `json:"navigation_edges"`
}

func (p Profile) summarize(limit int) Summary {
	s := Summary{TrackedURLs: len(p.FrequentlyAccessed), TopURLs: []URLCount{}, Edges: []Edge{}}

	for u, n := range p.FrequentlyAccessed {
		s.TopURLs = append(s.TopURLs, URLCount{URL: u, Count: n})
	}
	sort.Slice(s.TopURLs, func(i, j int) bool {
		if s.TopURLs[i].Count != s.TopURLs[j].Count {
			return s.TopURLs[i].Count > s.TopURLs[j].Count
		}
		return s.TopURLs[i].URL < s.TopURLs[j].URL
	})
	if len(s.TopURLs) > limit {
		s.TopURLs = s.TopURLs[:limit]
	}

	froms := make([]string, 0, len(p.NavigationPatterns))
	for f := range p.NavigationPatterns {
		froms = append(froms, f)
	}
	sort.Strings(froms)
	for _, f := range froms {
		for _, to := range p.NavigationPatterns[f] {
			if len(s.Edges) == limit {
				return s
			}
			s.Edges = append(s.Edges, Edge{From: f, To: to})
		}
	}
	return s
}
