package blueprint

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/medscale/qgen-eval/internal/domain"
)

// ErrNoBlueprint indicates no catalog entry matches the requested
// difficulty. The catalog ships at least one entry per tier, so this
// only occurs for unknown tiers.
var ErrNoBlueprint = errors.New("no blueprint for difficulty")

// SelectInput parameterizes blueprint selection.
type SelectInput struct {
	Topic      string
	Difficulty domain.Difficulty

	// Diversity requests image-based content when RequireImage is set.
	// The image sub-filter falls back to the full difficulty pool when
	// it would otherwise be empty.
	Diversity domain.DiversityOptions

	// Seed, when non-nil, makes selection deterministic. Evaluation
	// runs pass a seed for reproducibility; ad hoc generation leaves it
	// nil for variety.
	Seed *int64
}

// Selector chooses blueprints from a catalog.
type Selector struct {
	catalog []domain.QuestionBlueprint
}

// NewSelector returns a selector over the built-in catalog.
func NewSelector() *Selector { return &Selector{catalog: Catalog} }

// NewSelectorWithCatalog returns a selector over a caller-supplied
// catalog, used by tests and by the cached reference-data path.
func NewSelectorWithCatalog(catalog []domain.QuestionBlueprint) *Selector {
	return &Selector{catalog: catalog}
}

// Select picks one blueprint matching the input difficulty. When the
// diversity flag asks for image content the candidate pool narrows to
// image-required blueprints, falling back to the unfiltered difficulty
// pool if that sub-filter is empty; Select never returns ErrNoBlueprint
// while any difficulty-matching entry exists.
func (s *Selector) Select(in SelectInput) (*domain.QuestionBlueprint, error) {
	var pool []domain.QuestionBlueprint
	for _, bp := range s.catalog {
		if bp.Constraints.Difficulty == in.Difficulty {
			pool = append(pool, bp)
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBlueprint, in.Difficulty)
	}

	if in.Diversity.RequireImage {
		var imagePool []domain.QuestionBlueprint
		for _, bp := range pool {
			if bp.A11y != nil && bp.A11y.ImageRequired {
				imagePool = append(imagePool, bp)
			}
		}
		if len(imagePool) > 0 {
			pool = imagePool
		}
	}

	idx := 0
	if in.Seed != nil {
		idx = int(xorshift(uint64(*in.Seed)) % uint64(len(pool)))
	} else {
		idx = rand.Intn(len(pool)) // #nosec G404 -- non-cryptographic variety is the point
	}

	selected := pool[idx]
	return &selected, nil
}

// xorshift is a deterministic pseudo-random step over a seed. The same
// seed always yields the same index, which is what evaluation runs
// need; statistical quality beyond that is irrelevant here.
func xorshift(s uint64) uint64 {
	if s == 0 {
		s = 0x9E3779B97F4A7C15 // zero is a fixed point for xorshift
	}
	s ^= s << 13
	s ^= s >> 7
	s ^= s << 17
	return s
}
