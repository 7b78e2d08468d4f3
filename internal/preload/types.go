// Package preload ranks predicted content fetches and warms them in bounded
// concurrent batches, subject to per-type strategies.
package preload

import (
	"fmt"
	"time"
)

// ContentType is the kind of resource an item points at.
type ContentType string

const (
	Course ContentType = "course"
	Lesson ContentType = "lesson"
	Quiz   ContentType = "quiz"
	Image  ContentType = "image"
	API    ContentType = "api"
	Page   ContentType = "page"
)

// ContentTypes lists every known type.
var ContentTypes = []ContentType{Course, Lesson, Quiz, Image, API, Page}

func (c ContentType) Valid() bool {
	switch c {
	case Course, Lesson, Quiz, Image, API, Page:
		return true
	}
	return false
}

// Priority is an item's coarse rank.
type Priority string

const (
	High   Priority = "high"
	Normal Priority = "normal"
	Low    Priority = "low"
)

// Weight orders priorities: high=3, normal=2, low=1. Unknown values are 0.
func (p Priority) Weight() int {
	switch p {
	case High:
		return 3
	case Normal:
		return 2
	case Low:
		return 1
	}
	return 0
}

// ParsePriority validates a priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if p.Weight() == 0 {
		return "", fmt.Errorf("invalid priority %q (valid: high, normal, low)", s)
	}
	return p, nil
}

// Metadata is the per-type payload of an item. It is closed: only the
// variants below implement it.
type Metadata interface {
	ContentType() ContentType
	isMetadata()
}

type CourseMeta struct {
	CourseID    string `json:"course_id"`
	Title       string `json:"title,omitempty"`
	ModuleCount int    `json:"module_count,omitempty"`
}

type LessonMeta struct {
	CourseID string `json:"course_id"`
	LessonID string `json:"lesson_id"`
	Position int    `json:"position,omitempty"`
}

type QuizMeta struct {
	QuizID    string `json:"quiz_id"`
	CourseID  string `json:"course_id,omitempty"`
	Questions int    `json:"questions,omitempty"`
}

type ImageMeta struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Alt    string `json:"alt,omitempty"`
}

type APIMeta struct {
	Resource string `json:"resource"`
}

type PageMeta struct {
	Route     string `json:"route"`
	Predicted bool   `json:"predicted,omitempty"`
}

func (CourseMeta) ContentType() ContentType { return Course }
func (LessonMeta) ContentType() ContentType { return Lesson }
func (QuizMeta) ContentType() ContentType   { return Quiz }
func (ImageMeta) ContentType() ContentType  { return Image }
func (APIMeta) ContentType() ContentType    { return API }
func (PageMeta) ContentType() ContentType   { return Page }

func (CourseMeta) isMetadata() {}
func (LessonMeta) isMetadata() {}
func (QuizMeta) isMetadata()   {}
func (ImageMeta) isMetadata()  {}
func (APIMeta) isMetadata()    {}
func (PageMeta) isMetadata()   {}

// Item is a candidate content fetch. At most one item per URL is queued.
type Item struct {
	ID            string      `json:"id"`
	URL           string      `json:"url"`
	Type          ContentType `json:"type"`
	Priority      Priority    `json:"priority"`
	Weight        float64     `json:"weight"`
	Dependencies  []string    `json:"dependencies,omitempty"`
	EstimatedSize int64       `json:"estimated_size,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Metadata      Metadata    `json:"metadata,omitempty"`
}

// outranks reports whether a sorts strictly before b: priority weight
// first, then numeric weight.
func outranks(a, b Item) bool {
	if pa, pb := a.Priority.Weight(), b.Priority.Weight(); pa != pb {
		return pa > pb
	}
	return a.Weight > b.Weight
}

// Outcome is an item's terminal state.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Skipped   Outcome = "skipped"
)
