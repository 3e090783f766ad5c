package cache

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/internal/parser"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(window int) *MessageCache {
	return NewMessageCache(parser.NewParser(slog.Default()), window)
}

func rec(id, text string, lat, lon float64) core.RawRecord {
	return core.RawRecord{
		ID:        id,
		Text:      core.StringPtr(text),
		Location:  &core.Coordinate{Lat: lat, Lon: lon},
		CreatedAt: time.Date(2024, 2, 14, 12, 0, 0, 0, time.UTC),
	}
}

func viewIDs(view []core.AnnotatedMessage) []string {
	ids := make([]string, len(view))
	for i, m := range view {
		ids[i] = m.ID
	}
	return ids
}

func TestMessageCache_DefaultWindow(t *testing.T) {
	c := NewMessageCache(parser.NewParser(nil), 0)
	assert.Equal(t, DefaultWindowSize, c.Window())
}

func TestMessageCache_ReplaceSwapsWholeWindow(t *testing.T) {
	c := newTestCache(60)

	c.Replace([]core.RawRecord{rec("a", "one", 0, 0), rec("b", "two", 0, 0)})
	require.Equal(t, 2, c.Len())

	c.Replace([]core.RawRecord{rec("c", "three", 0, 0)})
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("c"))
}

func TestMessageCache_ReplaceTruncatesToWindow(t *testing.T) {
	c := newTestCache(2)

	c.Replace([]core.RawRecord{rec("a", "1", 0, 0), rec("b", "2", 0, 0), rec("c", "3", 0, 0)})

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a", "b"}, viewIDs(c.View("", nil, 0)))
}

func TestMessageCache_ReplaceCountsRejections(t *testing.T) {
	c := newTestCache(60)
	noLocation := core.RawRecord{ID: "x", Text: core.StringPtr("hidden")}

	rejected := c.Replace([]core.RawRecord{rec("a", "ok", 0, 0), noLocation})

	require.Len(t, rejected, 1)
	assert.Equal(t, "x", rejected[0].ID)
	assert.Equal(t, 1, c.Rejected())
	assert.Equal(t, 1, c.Len())
}

func TestMessageCache_NonFiniteLocationKeepsValidInView(t *testing.T) {
	c := newTestCache(60)

	rejected := c.Replace([]core.RawRecord{
		rec("good", "hola", 1, 2),
		rec("bad", "adios", math.NaN(), 2),
		rec("worse", "chau", 3, math.Inf(1)),
	})

	require.Len(t, rejected, 2)
	assert.ErrorIs(t, rejected[0].Err, parser.ErrInvalidLocation)
	assert.Equal(t, 2, c.Rejected())
	assert.Equal(t, []string{"good"}, viewIDs(c.View("", nil, 0)))
}

func TestMessageCache_ReplaceDropsDuplicateIDs(t *testing.T) {
	c := newTestCache(60)

	c.Replace([]core.RawRecord{rec("a", "first", 0, 0), rec("a", "second", 0, 0)})

	msg, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", msg.Text)
	assert.Equal(t, 1, c.Len())
}

func TestMessageCache_EmptyQueryReturnsEverythingInOrder(t *testing.T) {
	c := newTestCache(60)
	c.Replace([]core.RawRecord{rec("a", "te amo", 0, 0), rec("b", "AMOR eterno", 0, 0), rec("c", "odio", 0, 0)})

	assert.Equal(t, []string{"a", "b", "c"}, viewIDs(c.View("", nil, 0)))
	assert.Equal(t, []string{"a", "b", "c"}, viewIDs(c.View("   ", nil, 0)))
}

func TestMessageCache_SearchIsCaseInsensitiveSubstring(t *testing.T) {
	c := newTestCache(60)
	c.Replace([]core.RawRecord{rec("a", "te amo", 0, 0), rec("b", "AMOR eterno", 0, 0), rec("c", "odio", 0, 0)})

	assert.Equal(t, []string{"b"}, viewIDs(c.View("amor", nil, 0)))
	assert.Equal(t, []string{"a", "b"}, viewIDs(c.View("amo", nil, 0)))
}

func TestMessageCache_SearchMatchesCategory(t *testing.T) {
	c := newTestCache(60)
	love := rec("a", "hola", 0, 0)
	love.Category = core.StringPtr("love")
	c.Replace([]core.RawRecord{love, rec("b", "adios", 0, 0)})

	assert.Equal(t, []string{"a"}, viewIDs(c.View("LOV", nil, 0)))
	assert.Equal(t, []string{"b"}, viewIDs(c.View("general", nil, 0)))
}

func TestMessageCache_MessagesWithoutLocationNeverInView(t *testing.T) {
	c := newTestCache(60)
	hidden := core.RawRecord{ID: "x", Text: core.StringPtr("amor sin lugar")}
	c.Replace([]core.RawRecord{hidden, rec("a", "amor", 0, 0)})

	for _, q := range []string{"", "amor", "sin lugar"} {
		assert.NotContains(t, viewIDs(c.View(q, nil, 0)), "x", "query %q", q)
	}
}

func TestMessageCache_AnnotatesNearby(t *testing.T) {
	c := newTestCache(60)
	c.Replace([]core.RawRecord{rec("near", "a", 0.02, 0), rec("far", "b", 5, 5)})
	viewer := &core.Coordinate{Lat: 0, Lon: 0}

	view := c.View("", viewer, 0.05)
	require.Len(t, view, 2)
	assert.True(t, view[0].IsNearby)
	assert.False(t, view[1].IsNearby)
}

func TestMessageCache_NoViewerMeansNeverNearby(t *testing.T) {
	c := newTestCache(60)
	c.Replace([]core.RawRecord{rec("a", "a", 0, 0)})

	view := c.View("", nil, 100)
	require.Len(t, view, 1)
	assert.False(t, view[0].IsNearby)
}
