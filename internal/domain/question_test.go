package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionSetUnmarshal(t *testing.T) {
	t.Run("array form", func(t *testing.T) {
		var set OptionSet
		require.NoError(t, json.Unmarshal([]byte(`["a","b","c"]`), &set))
		assert.Equal(t, []string{"a", "b", "c"}, set.Ordered())
	})

	t.Run("letter-keyed form returns A..E order", func(t *testing.T) {
		var set OptionSet
		raw := `{"C":"third","A":"first","E":"fifth","B":"second","D":"fourth"}`
		require.NoError(t, json.Unmarshal([]byte(raw), &set))
		assert.Equal(t, []string{"first", "second", "third", "fourth", "fifth"}, set.Ordered())
	})

	t.Run("lowercase keys normalize like uppercase", func(t *testing.T) {
		var set OptionSet
		raw := `{"c":"third","a":"first","e":"fifth","b":"second","d":"fourth"}`
		require.NoError(t, json.Unmarshal([]byte(raw), &set))
		assert.Equal(t, []string{"first", "second", "third", "fourth", "fifth"}, set.Ordered())
	})

	t.Run("keys with stray whitespace still match", func(t *testing.T) {
		var set OptionSet
		require.NoError(t, json.Unmarshal([]byte(`{" A ":"first","b":"second"}`), &set))
		assert.Equal(t, []string{"first", "second"}, set.Ordered())
	})

	t.Run("missing letters are skipped not padded", func(t *testing.T) {
		var set OptionSet
		require.NoError(t, json.Unmarshal([]byte(`{"A":"first","D":"fourth"}`), &set))
		assert.Equal(t, []string{"first", "fourth"}, set.Ordered())
	})

	t.Run("marshals to canonical list form", func(t *testing.T) {
		set := OptionSet{Keyed: map[string]string{"B": "second", "A": "first"}}
		out, err := json.Marshal(set)
		require.NoError(t, err)
		assert.JSONEq(t, `["first","second"]`, string(out))
	})
}

func TestGeneratedArtifactValidate(t *testing.T) {
	valid := GeneratedArtifact{
		Stem:         "A 45-year-old presents with scaly plaques.",
		LeadIn:       "Which of the following is the most likely diagnosis?",
		Options:      []string{"Psoriasis", "Eczema", "Lichen planus", "Tinea", "Lupus"},
		CorrectIndex: 0,
		Explanation:  "Classic silvery plaques on extensor surfaces.",
	}

	t.Run("accepts well-formed artifact", func(t *testing.T) {
		a := valid
		require.NoError(t, a.Validate())
	})

	t.Run("rejects correct index beyond options", func(t *testing.T) {
		a := valid
		a.Options = a.Options[:3]
		a.CorrectIndex = 4
		assert.Error(t, a.Validate())
	})

	t.Run("rejects empty stem", func(t *testing.T) {
		a := valid
		a.Stem = ""
		assert.Error(t, a.Validate())
	})
}

func TestLetterConversion(t *testing.T) {
	assert.Equal(t, 0, LetterToIndex("A"))
	assert.Equal(t, 4, LetterToIndex("e"), "letters are case-insensitive")
	assert.Equal(t, 2, LetterToIndex(" C "))
	assert.Equal(t, -1, LetterToIndex("F"))
	assert.Equal(t, -1, LetterToIndex(""))

	a := GeneratedArtifact{Options: []string{"x", "y", "z"}, CorrectIndex: 1}
	assert.Equal(t, "B", a.CorrectLetter())
	a.CorrectIndex = 9
	assert.Equal(t, "", a.CorrectLetter())
}

func TestComposeOverall(t *testing.T) {
	t.Run("full dimension set produces weighted composite", func(t *testing.T) {
		dims := map[QualityDimension]float64{}
		for _, d := range RequiredDimensions {
			dims[d] = 80
		}
		overall, err := ComposeOverall(dims)
		require.NoError(t, err)
		assert.InDelta(t, 80.0, overall, 1e-9, "uniform dimensions give the same overall since weights sum to 1")
	})

	t.Run("partial dimension set is rejected", func(t *testing.T) {
		dims := map[QualityDimension]float64{DimAccuracy: 90}
		_, err := ComposeOverall(dims)
		assert.ErrorIs(t, err, ErrIncompleteDimensions)
	})

	t.Run("weights sum to one", func(t *testing.T) {
		sum := 0.0
		for _, w := range qualityWeights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	})

	t.Run("overall is clamped to the reporting range", func(t *testing.T) {
		dims := map[QualityDimension]float64{}
		for _, d := range RequiredDimensions {
			dims[d] = 150
		}
		overall, err := ComposeOverall(dims)
		require.NoError(t, err)
		assert.Equal(t, 100.0, overall)
	})
}

func TestNormalizeReviewScore(t *testing.T) {
	assert.InDelta(t, 100.0, NormalizeReviewScore(25), 1e-9)
	assert.InDelta(t, 72.0, NormalizeReviewScore(18), 1e-9)
	assert.Zero(t, NormalizeReviewScore(0))
	assert.Equal(t, 100.0, NormalizeReviewScore(30), "scores above the native scale clamp at 100")
}
