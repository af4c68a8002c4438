// Package team contains the three fixed teams and the contract-owned records
// that are mirrored read-only by the client.
package team

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a team on the contract. Valid values are 0, 1 and 2.
type ID uint8

// Teams in contract index order.
const (
	Ethereum ID = iota
	Bitcoin
	Monad

	// Count is the number of teams tracked by the contract.
	Count = 3
)

// Placeholder is rendered for a score that has not been read yet.
const Placeholder = "-"

// ErrInvalid is returned for a team id or name outside the fixed set.
var ErrInvalid = errors.New("invalid team")

var labels = [Count]string{"Ethereum", "Bitcoin", "Monad"}

// All returns the teams in contract index order.
func All() []ID { return []ID{Ethereum, Bitcoin, Monad} }

// Valid reports whether id is one of the three teams.
func (id ID) Valid() bool { return id < Count }

// Label returns the display name of the team.
func (id ID) Label() string {
	if !id.Valid() {
		return "Unknown"
	}
	return labels[id]
}

func (id ID) String() string { return id.Label() }

// Parse accepts a contract index ("0".."2") or a label (case-insensitive).
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if id := ID(n); id.Valid() {
			return id, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrInvalid, s)
	}
	for i, l := range labels {
		if strings.EqualFold(l, s) {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// Assignment mirrors getTeam(identity). Once Chosen is true for an identity
// it never becomes false again.
type Assignment struct {
	Chosen bool
	Team   ID
}

// Scores mirrors getScores(); index i is the score of ID(i).
type Scores [Count]uint64

// Row is one leaderboard line.
type Row struct {
	Team  ID     `json:"team"`
	Label string `json:"label"`
	Score string `json:"score"`
}

// Leaderboard renders scores in contract order. A nil snapshot renders the
// placeholder for every team rather than a stale zero.
func Leaderboard(s *Scores) []Row {
	rows := make([]Row, 0, Count)
	for _, id := range All() {
		score := Placeholder
		if s != nil {
			score = strconv.FormatUint(s[id], 10)
		}
		rows = append(rows, Row{Team: id, Label: id.Label(), Score: score})
	}
	return rows
}
