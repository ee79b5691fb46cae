// Package scoring is the golf domain layer over the link dispatcher: typed
// records for the payloads behind each envelope tag, and a client that
// composes encode-and-send without adding protocol logic of its own.
package scoring

import (
	"time"

	"github.com/caddiehq/wristlink/companion/geo"
)

// ScoreUpdate records the strokes for one player on one hole.
type ScoreUpdate struct {
	RoundID  string    `json:"round_id"`
	PlayerID string    `json:"player_id"`
	Hole     int       `json:"hole"`
	Strokes  int       `json:"strokes"`
	Putts    int       `json:"putts,omitempty"`
	At       time.Time `json:"at"`
}

// Hole describes one hole of a course.
type Hole struct {
	Number  int            `json:"number"`
	Par     int            `json:"par"`
	YardsM  int            `json:"yards_m"`
	Region  geo.HoleRegion `json:"region"`
}

// CourseData is the full course description sent to the wearable.
type CourseData struct {
	CourseID string `json:"course_id"`
	Name     string `json:"name"`
	Holes    []Hole `json:"holes"`
}

// RoundSnapshot is the full state of the round in progress. Broadcast on the
// last-value-wins state channel; any snapshot supersedes all before it.
type RoundSnapshot struct {
	RoundID     string         `json:"round_id"`
	CourseID    string         `json:"course_id"`
	CurrentHole int            `json:"current_hole"`
	Scores      map[string]int `json:"scores"` // player id -> total strokes
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ShotSample is a recorded shot position. Samples tolerate delay but not
// loss, so they ride the durable path when the counterpart is unreachable.
type ShotSample struct {
	RoundID  string    `json:"round_id"`
	PlayerID string    `json:"player_id"`
	Hole     int       `json:"hole"`
	Club     string    `json:"club,omitempty"`
	Location geo.Point `json:"location"`
	At       time.Time `json:"at"`
}

// CourseInfoRequest asks the primary for course data.
type CourseInfoRequest struct {
	CourseID string `json:"course_id"`
}

// RoundRequest asks the primary for the round in progress.
type RoundRequest struct{}
