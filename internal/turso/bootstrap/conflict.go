package bootstrap

import (
	"errors"
	"strings"

	"github.com/mschirtzinger/tally/internal/turso/db"
)

// conflictMarkers are lower-cased fragments of libSQL sync errors that mean
// the local replica's generation metadata no longer matches the primary.
// libSQL reports these only as text, so this list is the whole classifier;
// update it here when the engine's wording changes.
var conflictMarkers = []string{
	// local generation mismatch
	"generation id mismatch",
	"generation mismatch",
	"local generation",
	// server-reported conflict
	"server returned a conflict",
	"sync conflict",
	"409 conflict",
	// missing or invalid sync metadata
	"metadata file does not",
	"invalid sync metadata",
	"missing sync metadata",
	"local state is incorrect",
	"invalid local state",
}

// IsRecoverableConflict reports whether err from building or eagerly syncing
// a replica means the local file has diverged from the primary, so that
// quarantining it and starting from a clean replica can succeed.
//
// Every other failure (bad credentials, unreachable server, disk errors)
// returns false and must never lead to quarantine.
func IsRecoverableConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, db.ErrConflict) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
