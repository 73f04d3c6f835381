package sections

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIgnoresKeyOrder(t *testing.T) {
	a := New("a", "1", "b", "2")
	b := New("b", "2", "a", "1")

	assert.Equal(t, Hash(a), Hash(b))
	assert.NotEqual(t, Hash(a), Hash(New("a", "1", "b", "3")))
	assert.Len(t, Hash(a), 16)
}

func TestHashOfEmptyContentIsStable(t *testing.T) {
	assert.Equal(t, Hash(Content{}), Hash(New()))
}

func TestComputeClassifiesEveryKeyOnce(t *testing.T) {
	from := New("abstract", "same", "methods", "v1", "legacy", "gone")
	to := New("abstract", "same", "methods", "v2", "results", "new")

	diff := Compute(from, to)

	require.Len(t, diff, 4)
	assert.Equal(t, Unchanged, diff["abstract"])
	assert.Equal(t, Modified, diff["methods"])
	assert.Equal(t, Deleted, diff["legacy"])
	assert.Equal(t, Added, diff["results"])
	assert.Equal(t, []string{"legacy", "methods", "results"}, diff.Changed())
}

func TestComputeAgainstItselfIsAllUnchanged(t *testing.T) {
	c := New("intro", "Background text", "methods", "We sampled")

	diff := Compute(c, c)

	assert.Empty(t, diff.Changed())
	for key, action := range diff {
		assert.Equal(t, Unchanged, action, key)
	}
}

func TestComputeIsExactEquality(t *testing.T) {
	diff := Compute(New("intro", "text"), New("intro", "text "))
	assert.Equal(t, Modified, diff["intro"])
}

func TestComputeFromEmptyMarksEverythingAdded(t *testing.T) {
	diff := Compute(Content{}, New("a", "x", "b", "y"))
	assert.Equal(t, []string{"a", "b"}, diff.Changed())
	assert.Equal(t, 2, diff.Count(Added))
}

func TestSummary(t *testing.T) {
	diff := Compute(New("a", "1", "b", "2"), New("a", "1", "b", "3", "c", "4"))
	assert.Equal(t, "2 sections changed (1 added, 0 deleted, 1 modified)", diff.Summary())

	single := Compute(New("a", "1"), New("a", "2"))
	assert.Equal(t, "1 section changed (0 added, 0 deleted, 1 modified)", single.Summary())
}

func TestWordCount(t *testing.T) {
	c := New("abstract", "  Three short words ", "methods", "one\ttwo\nthree four", "empty", "")

	assert.Equal(t, 7, c.WordCount())
	assert.Equal(t, map[string]int{"abstract": 3, "methods": 4, "empty": 0}, c.SectionWordCounts())
}

func TestOverlaySourceWins(t *testing.T) {
	target := New("intro", "target intro", "results", "target results")
	source := New("results", "source results", "discussion", "source discussion")

	merged := Overlay(target, source)

	assert.Equal(t, []string{"intro", "results", "discussion"}, merged.Keys())
	text, _ := merged.Get("results")
	assert.Equal(t, "source results", text)
	_, ok := target.Get("discussion")
	assert.False(t, ok, "overlay must not mutate its inputs")
}

func TestJSONKeepsInsertionOrder(t *testing.T) {
	c := New("title", "T", "abstract", "A", "methods", "M")

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"T","abstract":"A","methods":"M"}`, string(raw))

	var decoded Content
	require.NoError(t, json.Unmarshal([]byte(`{"z":"1","a":"2"}`), &decoded))
	assert.Equal(t, []string{"z", "a"}, decoded.Keys())
	assert.True(t, decoded.Equal(FromMap(map[string]string{"a": "2", "z": "1"})))
}

func TestJSONRejectsNonStringSections(t *testing.T) {
	var decoded Content
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &decoded))

	require.NoError(t, json.Unmarshal([]byte(`null`), &decoded))
	assert.Equal(t, 0, decoded.Len())
}

func TestDeleteKeepsOrder(t *testing.T) {
	c := New("a", "1", "b", "2", "c", "3")
	clone := c.Clone()
	c.Delete("b")

	assert.Equal(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, []string{"a", "b", "c"}, clone.Keys())
}

func TestCopiesDoNotShareSections(t *testing.T) {
	a := New("methods", "x")
	b := a
	b.Set("results", "y")

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, map[string]string{"methods": "x"}, a.Map())
	assert.Equal(t, 1, a.WordCount())
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"methods":"x"}`, string(raw))

	c := b
	c.Delete("methods")
	assert.Equal(t, []string{"methods", "results"}, b.Keys())
	_, ok := b.Get("methods")
	assert.True(t, ok)

	c.Set("methods", "z")
	text, _ := b.Get("methods")
	assert.Equal(t, "x", text)
}

func TestHashMatchesSortedJSONDigest(t *testing.T) {
	c := New("results", "y", "methods", "x")
	assert.Len(t, Hash(c), 16)
	assert.NotEqual(t, Hash(c), Hash(New("results", "y", "methods", "z")))
	assert.Equal(t, Hash(New()), Hash(Content{}))
}
