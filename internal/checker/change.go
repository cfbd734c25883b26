package checker

import (
	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// Change describes how a retest moved a server.
type Change string

const (
	Unchanged  Change = "unchanged"
	Updated    Change = "updated"
	Downgraded Change = "downgraded"
	// Switched means the server now runs another software. The previous
	// outcome is replaced, not compared.
	Switched  Change = "switched"
	Recovered Change = "recovered"
	Failed    Change = "failed"
)

func classify(prev domain.Outcome, hadPrev bool, cur domain.Outcome) Change {
	switch {
	case !cur.OK():
		return Failed
	case !hadPrev || !prev.OK():
		return Recovered
	case !software.SameSoftware(*prev.Version, *cur.Version):
		return Switched
	}

	switch software.Compare(*cur.Version, *prev.Version) {
	case software.Equal:
		return Unchanged
	case software.Less:
		return Downgraded
	default:
		return Updated
	}
}
