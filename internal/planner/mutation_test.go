package planner

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/schema"
	"relmap/internal/testutil/library"
)

func TestPlanInsert(t *testing.T) {
	g := graphOf[library.Book](t)
	book := library.Book{AuthorId: 7, Title: "Islands", Available: true, Status: library.Published}

	plan, err := PlanInsert(g, dialect.MySQL(), reflect.ValueOf(&book).Elem())
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `books` (`author_id`,`editor_id`,`Title`,`Available`,`Status`) VALUES (?,?,?,?,?)", plan.SQL)
	assert.Equal(t, []interface{}{int64(7), nil, "Islands", 1, library.Published}, plan.Args)
	require.NotNil(t, plan.Generated)
	assert.Equal(t, "Id", plan.Generated.Path)
	assert.False(t, plan.Returning)

	plan, err = PlanInsert(g, dialect.Postgres(), reflect.ValueOf(&book).Elem())
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "books" ("author_id","editor_id","Title","Available","Status") VALUES ($1,$2,$3,$4,$5) RETURNING "Id"`, plan.SQL)
	assert.True(t, plan.Returning)

	tag := library.Tag{Id: 4, Label: "sea"}
	plan, err = PlanInsert(graphOf[library.Tag](t), dialect.SQLite(), reflect.ValueOf(&tag).Elem())
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "tags" ("Id","Label") VALUES (?,?)`, plan.SQL)
	assert.Nil(t, plan.Generated, "keys supplied by the caller are not written back")
}

func TestPlanUpdateInstance(t *testing.T) {
	g := graphOf[library.Book](t)
	editor := int64(9)
	book := library.Book{Id: 3, AuthorId: 7, EditorId: &editor, Title: "Islands", Status: library.Retired}

	q, err := PlanUpdateInstance(g, dialect.MySQL(), reflect.ValueOf(&book).Elem())
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `books` SET `author_id` = ?, `editor_id` = ?, `Title` = ?, `Available` = ?, `Status` = ? WHERE `Id` = ?", q.SQL)
	assert.Equal(t, []interface{}{int64(7), int64(9), "Islands", 0, library.Retired, int64(3)}, q.Args)

	note := library.Note{BookId: 1, Text: "x"}
	_, err = PlanUpdateInstance(graphOf[library.Note](t), dialect.MySQL(), reflect.ValueOf(&note).Elem())
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
}

func TestPlanUpdate(t *testing.T) {
	g := graphOf[library.Book](t)
	b := expr.Param()

	q, err := PlanUpdate(g, dialect.Postgres(), []Assignment{{Path: "Title", Value: "Renamed"}, {Path: "Available", Value: true}},
		b.Field("AuthorId").Eq(7))
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "books" SET "Title" = $1, "Available" = $2 WHERE ("author_id" = $3)`, q.SQL)
	assert.Equal(t, []interface{}{"Renamed", 1, 7}, q.Args)

	_, err = PlanUpdate(g, dialect.MySQL(), []Assignment{{Path: "Author.Name", Value: "x"}}, nil)
	var resErr *schema.ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Contains(t, resErr.Reason, "root column")

	_, err = PlanUpdate(g, dialect.MySQL(), []Assignment{{Path: "Subtitle", Value: "x"}}, nil)
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "Subtitle", resErr.Path)

	_, err = PlanUpdate(g, dialect.MySQL(), []Assignment{{Path: "Title", Value: "x"}}, b.Path("Author", "Name").Eq("y"))
	require.True(t, errors.As(err, &resErr))

	_, err = PlanUpdate(g, dialect.MySQL(), nil, nil)
	assert.Error(t, err)
}

func TestPlanDelete(t *testing.T) {
	g := graphOf[library.Book](t)
	b := expr.Param()

	q, err := PlanDelete(g, dialect.MySQL(), b.Field("Id").Gt(3))
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `books` WHERE (`Id` > ?)", q.SQL)
	assert.Equal(t, []interface{}{3}, q.Args)

	q, err = PlanDelete(g, dialect.MySQL(), nil)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `books`", q.SQL)

	book := library.Book{Id: 12}
	q, err = PlanDeleteInstance(g, dialect.SQLite(), reflect.ValueOf(&book).Elem())
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "books" WHERE "Id" = ?`, q.SQL)
	assert.Equal(t, []interface{}{int64(12)}, q.Args)

	note := library.Note{}
	_, err = PlanDeleteInstance(graphOf[library.Note](t), dialect.MySQL(), reflect.ValueOf(&note).Elem())
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
}
