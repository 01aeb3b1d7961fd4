package monitor

import (
	"math"
	"sort"

	"github.com/rewired-gh/polywatch/internal/models"
)

// TopMovers returns up to limit candidates ordered by absolute percent delta,
// largest first. A non-positive limit returns all of them.
func TopMovers(candidates []models.ChangeCandidate, limit int) []models.ChangeCandidate {
	out := make([]models.ChangeCandidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].PercentDelta) > math.Abs(out[j].PercentDelta)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
