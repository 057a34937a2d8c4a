// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package selection picks one candidate release from a result set so that
// the same candidate wins no matter how the host ordered its response.
package selection

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/pdiddy/plugin-e2e/pkg/types"
)

// ErrNoCandidates is returned when Select is given an empty set.
var ErrNoCandidates = errors.New("selection: no candidates")

// Tie-breaker names reported in Basis.TieBreaker.
const (
	KeyTitle = "title"
	KeyGUID  = "guid"
	KeySize  = "size"
	KeyHash  = "hash"
	KeyIndex = "index"
	KeyNone  = "none"
)

// Candidate is one selectable record.
type Candidate struct {
	Title         string
	GUID          string
	Size          int64
	IndexerID     int
	OriginalIndex int
}

// IntrinsicHash is the first 16 hex characters of
// SHA256(UPPER(title)|UPPER(guid)|size|indexerId). It depends only on the
// candidate's own fields.
func (c Candidate) IntrinsicHash() string {
	key := normalize(c.Title) + "|" + normalize(c.GUID) + "|" +
		strconv.FormatInt(c.Size, 10) + "|" + strconv.Itoa(c.IndexerID)
	return shortHash(key)
}

// Basis explains a selection without exposing the winning guid.
type Basis struct {
	SortKeys       []string `json:"sortKeys"`
	CandidateCount int      `json:"candidateCount"`
	WinnerGUIDHash string   `json:"winnerGuidHash"`
	TieBreaker     string   `json:"tieBreaker"`
}

// Map returns the basis as a details-map value.
func (b Basis) Map() map[string]any {
	return map[string]any{
		"sortKeys":       b.SortKeys,
		"candidateCount": b.CandidateCount,
		"winnerGuidHash": b.WinnerGUIDHash,
		"tieBreaker":     b.TieBreaker,
	}
}

type keyed struct {
	Candidate
	title, guid, hash string
}

// Select sorts candidates by (title asc, guid asc, size per policy,
// intrinsic hash asc, original index asc) and returns the first one.
// Titles and guids compare after upper-casing. An empty policy sorts
// size descending.
func Select(candidates []Candidate, policy types.SizePolicy) (Candidate, Basis, error) {
	if len(candidates) == 0 {
		return Candidate{}, Basis{}, ErrNoCandidates
	}
	desc := policy != types.SizeAscending

	ks := make([]keyed, len(candidates))
	for i, c := range candidates {
		ks[i] = keyed{Candidate: c, title: normalize(c.Title), guid: normalize(c.GUID), hash: c.IntrinsicHash()}
	}

	cmpSize := func(a, b keyed) int {
		if desc {
			return cmp.Compare(b.Size, a.Size)
		}
		return cmp.Compare(a.Size, b.Size)
	}
	comparators := []struct {
		name string
		fn   func(a, b keyed) int
	}{
		{KeyTitle, func(a, b keyed) int { return strings.Compare(a.title, b.title) }},
		{KeyGUID, func(a, b keyed) int { return strings.Compare(a.guid, b.guid) }},
		{KeySize, cmpSize},
		{KeyHash, func(a, b keyed) int { return strings.Compare(a.hash, b.hash) }},
		{KeyIndex, func(a, b keyed) int { return cmp.Compare(a.OriginalIndex, b.OriginalIndex) }},
	}

	slices.SortStableFunc(ks, func(a, b keyed) int {
		for _, c := range comparators {
			if n := c.fn(a, b); n != 0 {
				return n
			}
		}
		return 0
	})
	winner := ks[0]

	// Narrow the set one key at a time; the key that leaves a single
	// candidate is the one that broke the tie.
	tie := KeyNone
	pool := ks
	for _, c := range comparators {
		if len(pool) == 1 {
			break
		}
		next := pool[:0:0]
		for _, k := range pool {
			if c.fn(k, winner) == 0 {
				next = append(next, k)
			}
		}
		if len(next) < len(pool) {
			tie = c.name
		}
		pool = next
	}

	sizeKey := "size desc"
	if !desc {
		sizeKey = "size asc"
	}
	basis := Basis{
		SortKeys:       []string{"title asc", "guid asc", sizeKey, "hash asc", "index asc"},
		CandidateCount: len(candidates),
		WinnerGUIDHash: shortHash(winner.guid),
		TieBreaker:     tie,
	}
	return winner.Candidate, basis, nil
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
