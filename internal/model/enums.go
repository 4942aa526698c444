package model

import (
	"strings"

	"github.com/makeasinger/genreswap/pkg/api"
)

// Status and genre are part of the wire format and live in pkg/api.
type (
	JobStatus = api.JobStatus
	Genre     = api.Genre
)

const (
	JobStatusPending    = api.JobStatusPending
	JobStatusProcessing = api.JobStatusProcessing
	JobStatusCompleted  = api.JobStatusCompleted
	JobStatusFailed     = api.JobStatusFailed
)

// CanTransition reports whether from -> to is a legal edge of the job
// state machine. Staying in the same non-terminal state is allowed so a
// processing job can record progress.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusPending || to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// SupportedGenres is the catalog of target genres accepted on submit.
var SupportedGenres = []Genre{
	"pop", "rock", "hiphop", "jazz", "classical", "country", "electronic",
	"reggae", "blues", "funk", "soul", "rnb", "metal", "punk", "disco",
	"folk", "gospel", "latin", "kpop", "jpop", "edm", "house", "techno",
	"trance", "dubstep", "drumandbass", "ambient", "ska", "bluegrass",
	"opera", "grunge", "indie", "synthwave", "trap", "afrobeat", "salsa",
	"bossa", "flamenco", "tango", "chillout", "lofi", "world", "celtic",
	"march", "polka", "swing", "motown", "newage", "soundtrack", "children",
}

var genreSet = func() map[Genre]struct{} {
	m := make(map[Genre]struct{}, len(SupportedGenres))
	for _, g := range SupportedGenres {
		m[g] = struct{}{}
	}
	return m
}()

// SanitizeGenre lower-cases the input and drops anything outside
// [a-z0-9-_].
func SanitizeGenre(raw string) Genre {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return Genre(b.String())
}

func IsSupportedGenre(g Genre) bool {
	_, ok := genreSet[g]
	return ok
}
