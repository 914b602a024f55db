package matcher

import (
	"gonum.org/v1/gonum/floats"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Entry pairs one enrolled embedding with the identity that owns it.
type Entry struct {
	Vec        types.Vector
	IdentityID string
}

// Population is the flattened snapshot a matching session runs against.
// It is built once and never updated; enrollments made afterwards need a rebuild.
type Population struct {
	entries    []Entry
	identities int
}

// BuildPopulation flattens identities in the given order, then sample order within each identity.
// Ids in order that are missing from identities are ignored.
func BuildPopulation(identities map[string]types.Identity, order []string) *Population {
	p := &Population{}
	for _, id := range order {
		ident, ok := identities[id]
		if !ok || len(ident.Embeddings) == 0 {
			continue
		}
		p.identities++
		for _, vec := range ident.Embeddings {
			p.entries = append(p.entries, Entry{Vec: vec, IdentityID: ident.ID})
		}
	}
	return p
}

// Len is the number of embeddings in the index.
func (p *Population) Len() int { return len(p.entries) }

// Identities is the number of distinct identities contributing embeddings.
func (p *Population) Identities() int { return p.identities }

// Entry returns the i-th flattened entry.
func (p *Population) Entry(i int) Entry { return p.entries[i] }

// Distance is the Euclidean distance between two embeddings.
// ok is false when the vectors cannot be compared (empty or different lengths).
func Distance(a, b types.Vector) (d float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	return floats.Distance(a, b, 2), true
}

// Mean averages equally sized vectors. Vectors of a different length than the first are skipped.
func Mean(vecs []types.Vector) types.Vector {
	if len(vecs) == 0 {
		return nil
	}
	sum := make([]float64, len(vecs[0]))
	n := 0
	for _, v := range vecs {
		if len(v) != len(sum) {
			continue
		}
		floats.Add(sum, v)
		n++
	}
	floats.Scale(1/float64(n), sum)
	return sum
}
