package matcher

import (
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
)

// DuplicateIndex answers "who is closest to this face?" over every stored sample.
// The scan is exhaustive so a re-enrolment can never hide another identity behind
// its own samples.
type DuplicateIndex struct {
	pop *Population
}

// NewDuplicateIndex indexes every sample of pop.
func NewDuplicateIndex(pop *Population) *DuplicateIndex {
	return &DuplicateIndex{pop: pop}
}

// Len is the number of indexed samples.
func (d *DuplicateIndex) Len() int { return d.pop.Len() }

// Nearest returns the closest identity other than exclude. ok is false when no
// comparable sample of another identity exists.
func (d *DuplicateIndex) Nearest(vec types.Vector, exclude string) (id string, dist float64, ok bool) {
	best := math.Inf(1)
	for _, e := range d.pop.entries {
		if e.IdentityID == exclude {
			continue
		}
		dd, comparable := Distance(vec, e.Vec)
		if !comparable {
			continue
		}
		if dd < best {
			best, id, ok = dd, e.IdentityID, true
		}
	}
	if !ok {
		return "", 0, false
	}
	return id, best, true
}
