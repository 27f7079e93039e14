package materialize

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/dialect"
	"relmap/internal/planner"
	"relmap/internal/schema"
	"relmap/internal/testutil/library"
)

type resultSet struct {
	cols []string
	rows [][]any
	err  error
}

// fakeCursor replays canned result sets. A set's err is reported once its
// rows are exhausted.
type fakeCursor struct {
	sets []resultSet
	set  int
	row  int
}

func (c *fakeCursor) current() *resultSet { return &c.sets[c.set] }

func (c *fakeCursor) Columns() ([]string, error) { return c.current().cols, nil }

func (c *fakeCursor) Next() bool {
	if c.row >= len(c.current().rows) {
		return false
	}
	c.row++
	return true
}

func (c *fakeCursor) Scan(dest ...any) error {
	if c.row == 0 {
		return errors.New("scan called without advancing rows")
	}
	row := c.current().rows[c.row-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan row has %d values, dest has %d", len(row), len(dest))
	}
	for i, v := range row {
		*dest[i].(*any) = v
	}
	return nil
}

func (c *fakeCursor) NextResultSet() bool {
	if c.current().err != nil || c.set+1 >= len(c.sets) {
		return false
	}
	c.set++
	c.row = 0
	return true
}

func (c *fakeCursor) Err() error   { return c.current().err }
func (c *fakeCursor) Close() error { return nil }

func columns(idx ...int) []string {
	out := make([]string, len(idx))
	for i, c := range idx {
		out[i] = planner.ColumnAlias(c)
	}
	return out
}

var (
	bookCols      = columns(1, 2, 3, 4, 5, 6, 8, 9, 10, 13, 14, 15)
	chapterCols   = columns(18, 19, 20)
	paragraphCols = columns(23, 24, 25)
)

func bookRow(id int64, title string, editor any) []any {
	row := []any{id, int64(1), editor, []byte(title), int64(1), int64(library.Published),
		int64(1), "Ernest", nil}
	if editor == nil {
		return append(row, nil, nil, nil)
	}
	return append(row, editor, "Maxwell", "max@example.com")
}

func planFor[T any](t *testing.T, req planner.Request) *planner.Plan {
	t.Helper()
	g, err := schema.GraphOf[T]()
	require.NoError(t, err)
	plan, err := planner.PlanQuery(g, dialect.MySQL(), req)
	require.NoError(t, err)
	return plan
}

func TestMaterialize_Direct(t *testing.T) {
	plan := planFor[library.Book](t, planner.Request{})
	assert.Equal(t, Direct, StrategyOf(plan))

	cur := &fakeCursor{sets: []resultSet{{
		cols: bookCols,
		rows: [][]any{
			bookRow(1, "Islands", nil),
			bookRow(2, "Fiesta", int64(7)),
		},
	}}}
	res, err := Materialize(context.Background(), plan, cur)
	require.NoError(t, err)
	books := Collect[library.Book](res)
	require.Len(t, books, 2)
	assert.Equal(t, 2, res.Rows)

	assert.Equal(t, "Islands", books[0].Title)
	assert.True(t, books[0].Available)
	assert.Equal(t, library.Published, books[0].Status)
	assert.Nil(t, books[0].EditorId)
	assert.Nil(t, books[0].Editor, "unmatched outer join leaves the reference nil")
	require.NotNil(t, books[0].Author)
	assert.Equal(t, "Ernest", books[0].Author.Name)
	assert.False(t, books[0].Author.Email.Valid)

	require.NotNil(t, books[1].EditorId)
	assert.Equal(t, int64(7), *books[1].EditorId)
	require.NotNil(t, books[1].Editor)
	assert.Equal(t, "max@example.com", books[1].Editor.Email.String)
	assert.NotSame(t, books[0].Author, books[1].Author, "direct reads do not share references")
	assert.Nil(t, books[0].Chapters)
}

func stagedBooks() []resultSet {
	return []resultSet{
		{cols: bookCols, rows: [][]any{
			bookRow(1, "Islands", nil),
			bookRow(2, "Fiesta", nil),
			bookRow(3, "Winner", nil),
		}},
		{cols: paragraphCols, rows: [][]any{
			{int64(100), int64(10), "p1"},
			{int64(101), int64(10), "p2"},
			{int64(102), int64(11), "p3"},
			{int64(103), int64(12), "p4"},
			{int64(104), int64(12), "p5"},
		}},
		{cols: chapterCols, rows: [][]any{
			{int64(10), int64(1), "One"},
			{int64(11), int64(1), "Two"},
			{int64(11), int64(1), "Two"},
			{int64(12), int64(2), "Three"},
			{int64(13), int64(2), "Four"},
		}},
	}
}

func TestMaterialize_StagedRoundTrip(t *testing.T) {
	plan := planFor[library.Book](t, planner.Request{Include: []string{"Chapters"}})
	assert.Equal(t, Staged, StrategyOf(plan))

	res, err := Materialize(context.Background(), plan, &fakeCursor{sets: stagedBooks()})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 13, res.Rows)

	books := Collect[library.Book](res)
	require.Len(t, books, 3)

	chapters, paragraphs := 0, 0
	for _, b := range books {
		chapters += len(b.Chapters)
		for _, c := range b.Chapters {
			assert.Equal(t, b.Id, c.BookId)
			paragraphs += len(c.Paragraphs)
			for _, p := range c.Paragraphs {
				assert.Equal(t, c.Id, p.ChapterId)
			}
		}
	}
	assert.Equal(t, 4, chapters, "duplicate chapter rows are collapsed")
	assert.Equal(t, 5, paragraphs)

	require.Len(t, books[0].Chapters, 2)
	assert.Equal(t, "One", books[0].Chapters[0].Title)
	assert.Equal(t, []string{"p1", "p2"}, []string{books[0].Chapters[0].Paragraphs[0].Body, books[0].Chapters[0].Paragraphs[1].Body})
	assert.Len(t, books[0].Chapters[1].Paragraphs, 1)
	assert.Len(t, books[1].Chapters[0].Paragraphs, 2)
	assert.Nil(t, books[1].Chapters[1].Paragraphs, "collections stay nil until a child arrives")
	assert.Nil(t, books[2].Chapters)
}

func TestMaterialize_OrphansWarn(t *testing.T) {
	plan := planFor[library.Book](t, planner.Request{Include: []string{"Chapters"}})
	sets := stagedBooks()
	sets[1].rows = append(sets[1].rows, []any{int64(105), int64(77), "lost"})
	sets[2].rows = append(sets[2].rows, []any{int64(14), int64(99), "Stray"})

	res, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets})
	require.NoError(t, err)
	assert.ElementsMatch(t, []ConsistencyWarning{
		{Collection: "Chapters", ParentKey: "99", ChildKey: "14"},
		{Collection: "Chapters.Paragraphs", ParentKey: "77", ChildKey: "105"},
	}, res.Warnings)
	assert.Len(t, Collect[library.Book](res), 3)
}

func TestMaterialize_StrictConsistency(t *testing.T) {
	plan := planFor[library.Book](t, planner.Request{Include: []string{"Chapters"}})
	sets := stagedBooks()
	sets[2].rows = append(sets[2].rows, []any{int64(14), int64(99), "Stray"})

	_, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets}, WithStrict(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistentGraph)
	var inconsistent *InconsistentGraphError
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, "Chapters", inconsistent.Warning.Collection)
	assert.Contains(t, err.Error(), `missing parent "99"`)
}

func TestMaterialize_CursorErrorReturnsPartialGraph(t *testing.T) {
	plan := planFor[library.Book](t, planner.Request{Include: []string{"Chapters"}})
	sets := stagedBooks()
	sets[0].err = context.Canceled
	sets[0].rows = sets[0].rows[:2]

	res, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Len(t, res.Roots, 2)
}

func TestMaterialize_ShapeMismatch(t *testing.T) {
	plan := planFor[library.Book](t, planner.Request{Include: []string{"Chapters"}})

	t.Run("column count", func(t *testing.T) {
		sets := stagedBooks()
		sets[0].cols = sets[0].cols[:3]
		_, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets})
		assert.ErrorContains(t, err, "result set has 3 columns, plan expects 12")
	})

	t.Run("column name", func(t *testing.T) {
		sets := stagedBooks()
		sets[1].cols = columns(23, 25, 24)
		_, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets})
		assert.ErrorContains(t, err, `result column 1 is "c25", plan expects "c24"`)
	})

	t.Run("missing result set", func(t *testing.T) {
		sets := stagedBooks()[:2]
		_, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets})
		assert.ErrorContains(t, err, "executor returned 2 result sets, plan expects 3")
	})

	t.Run("conversion", func(t *testing.T) {
		sets := stagedBooks()
		sets[0].rows[0][0] = "not a number"
		_, err := Materialize(context.Background(), plan, &fakeCursor{sets: sets})
		assert.ErrorContains(t, err, "materialize Book.Id")
	})
}

func TestKeyOf(t *testing.T) {
	g, err := schema.GraphOf[library.Book]()
	require.NoError(t, err)
	b := library.Book{Id: 4, AuthorId: 9}
	owner := reflectValue(&b)

	key, ok := keyOf(owner, g, []int{1, 2})
	require.True(t, ok)
	assert.Equal(t, "4|9", key)

	_, ok = keyOf(owner, g, []int{3})
	assert.False(t, ok, "null keys never match")
	_, ok = keyOf(owner, g, nil)
	assert.False(t, ok)

	part, ok := keyPart([]byte("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", part)
}

func reflectValue(v any) reflect.Value {
	return reflect.ValueOf(v).Elem()
}
