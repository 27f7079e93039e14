package relmap

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/dbexec"
	"relmap/internal/dialect"
	"relmap/internal/testutil/library"
)

const (
	bookColumns = "t0.`Id` AS c1, t0.`author_id` AS c2, t0.`editor_id` AS c3, t0.`Title` AS c4, " +
		"t0.`Available` AS c5, t0.`Status` AS c6, t1.`Id` AS c8, t1.`Name` AS c9, t1.`Email` AS c10, " +
		"t2.`Id` AS c13, t2.`Name` AS c14, t2.`Email` AS c15"
	bookFrom = "`books` AS t0 INNER JOIN `people` AS t1 ON t0.`author_id` = t1.`Id` " +
		"LEFT JOIN `people` AS t2 ON t0.`editor_id` = t2.`Id`"
)

var bookResultColumns = []string{"c1", "c2", "c3", "c4", "c5", "c6", "c8", "c9", "c10", "c13", "c14", "c15"}

func newMockClient(t *testing.T, opts ...Option) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	opts = append([]Option{WithConnection("main", dialect.MySQL(), dbexec.NewStandardExecutor(db))}, opts...)
	return NewClient(opts...), mock
}

func bookRow(id int64, title string) []driver.Value {
	return []driver.Value{id, int64(7), nil, title, int64(1), int64(1), int64(7), "Ernest Hemingway", nil, nil, nil, nil}
}

func TestQuery_Direct(t *testing.T) {
	client, mock := newMockClient(t)
	b := Param()

	mock.ExpectQuery("SELECT " + bookColumns + " FROM " + bookFrom + " WHERE (t1.`Name` LIKE CONCAT(?, '%'))").
		WithArgs("Ernest").
		WillReturnRows(sqlmock.NewRows(bookResultColumns).
			AddRow(bookRow(1, "The Sun Also Rises")...).
			AddRow(bookRow(2, "A Farewell to Arms")...))

	books, err := Query[library.Book](client).
		Where(b.Field("Author").Field("Name").StartsWith("Ernest")).
		Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 2)

	assert.Equal(t, "The Sun Also Rises", books[0].Title)
	assert.True(t, books[0].Available)
	assert.Equal(t, library.Published, books[0].Status)
	require.NotNil(t, books[0].Author)
	assert.Equal(t, "Ernest Hemingway", books[0].Author.Name)
	assert.False(t, books[0].Author.Email.Valid)
	assert.Nil(t, books[0].Editor, "a null outer join leaves the reference unset")
	assert.Nil(t, books[0].EditorId)
	assert.NotSame(t, books[0].Author, books[1].Author, "direct rows are not deduplicated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_WhereCombinesWithAnd(t *testing.T) {
	client, _ := newMockClient(t)
	b := Param()

	plan, err := Query[library.Tag](client).
		Where(b.Field("Id").Gt(3)).
		Where(b.Field("Label").Ne("x")).
		Plan()
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.`Id` AS c1, t0.`Label` AS c2 FROM `tags` AS t0 WHERE ((t0.`Id` > ?) AND (t0.`Label` <> ?))", plan.Statements[0].Query)
	assert.Equal(t, []interface{}{3, "x"}, plan.Statements[0].Args)
}

func TestQuery_CompileErrorsStopBeforeExecution(t *testing.T) {
	client, mock := newMockClient(t)
	b := Param()

	_, err := Query[library.Book](client).Where(b.Field("Publisher").Eq("x")).Execute(context.Background())
	var resolution *ResolutionError
	assert.ErrorAs(t, err, &resolution)

	_, err = Query[library.Book](client).Where(b.Field("Title").Call("Reverse").Eq("x")).Execute(context.Background())
	var unsupported *UnsupportedExpressionError
	assert.ErrorAs(t, err, &unsupported)

	_, err = Query[library.Note](client).Offset(5).Execute(context.Background())
	var missing *MissingOrderingError
	assert.ErrorAs(t, err, &missing)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_ExecutionErrorIsReturnedUnchanged(t *testing.T) {
	client, mock := newMockClient(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT t0.`Id` AS c1, t0.`Label` AS c2 FROM `tags` AS t0").WillReturnError(boom)

	_, err := Query[library.Tag](client).Execute(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestQuery_First(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectQuery("SELECT t0.`Id` AS c1, t0.`Label` AS c2 FROM `tags` AS t0 ORDER BY t0.`Label`, t0.`Id` LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"c1", "c2"}).AddRow(int64(4), "alpha"))
	mock.ExpectQuery("SELECT t0.`Id` AS c1, t0.`Label` AS c2 FROM `tags` AS t0 ORDER BY t0.`Label`, t0.`Id` LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"c1", "c2"}))

	tag, err := Query[library.Tag](client).OrderBy("Label").First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), tag.Id)

	_, err = Query[library.Tag](client).OrderBy("Label").First(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuery_Count(t *testing.T) {
	client, mock := newMockClient(t)
	b := Param()
	mock.ExpectQuery("SELECT COUNT(*) FROM " + bookFrom + " WHERE (t0.`Available` = 1)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := Query[library.Book](client).Where(b.Field("Available")).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestQuery_UnknownConnection(t *testing.T) {
	client := NewClient()
	_, err := Query[library.Tag](client).Execute(context.Background())
	assert.ErrorContains(t, err, `Tag uses connection "", which is not configured`)
}

func TestInsert_LastInsertID(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectExec("INSERT INTO `books` (`author_id`,`editor_id`,`Title`,`Available`,`Status`) VALUES (?,?,?,?,?)").
		WithArgs(int64(7), nil, "Fiesta", 1, library.Draft).
		WillReturnResult(sqlmock.NewResult(31, 1))

	book := &library.Book{AuthorId: 7, Title: "Fiesta", Available: true}
	require.NoError(t, Insert(context.Background(), client, book))
	assert.Equal(t, int64(31), book.Id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Returning(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	client := NewClient(WithConnection("main", dialect.Postgres(), dbexec.NewStandardExecutor(db)))

	mock.ExpectQuery(`INSERT INTO "people" ("Name","Email") VALUES ($1,$2) RETURNING "Id"`).
		WillReturnRows(sqlmock.NewRows([]string{"Id"}).AddRow(int64(9)))

	person := &library.Person{Name: "Iris Murdoch"}
	require.NoError(t, Insert(context.Background(), client, person))
	assert.Equal(t, int64(9), person.Id)
}

func TestInsert_Nil(t *testing.T) {
	client, _ := newMockClient(t)
	assert.ErrorContains(t, Insert[library.Book](context.Background(), client, nil), "nil Book instance")
}

func TestWrites(t *testing.T) {
	client, mock := newMockClient(t)
	b := Param()
	ctx := context.Background()

	mock.ExpectExec("UPDATE `books` SET `author_id` = ?, `editor_id` = ?, `Title` = ?, `Available` = ?, `Status` = ? WHERE `Id` = ?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := UpdateInstance(ctx, client, &library.Book{Id: 3, AuthorId: 7, Title: "Fiesta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectExec("UPDATE `books` SET `Title` = ? WHERE (`author_id` = ?)").
		WithArgs("Untitled", 7).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err = Update[library.Book](client).Set("Title", "Untitled").Where(b.Field("AuthorId").Eq(7)).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	mock.ExpectExec("DELETE FROM `books` WHERE (`Id` > ?)").
		WithArgs(100).
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err = Delete[library.Book](client).Where(b.Field("Id").Gt(100)).Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectExec("DELETE FROM `tags` WHERE `Id` = ?").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err = DeleteInstance(ctx, client, &library.Tag{Id: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = Update[library.Book](client).Set("Author.Name", "x").Exec(ctx)
	var resolution *ResolutionError
	assert.ErrorAs(t, err, &resolution)

	_, err = DeleteInstance(ctx, client, &library.Note{})
	assert.ErrorIs(t, err, ErrNoPrimaryKey)

	assert.NoError(t, mock.ExpectationsWereMet())
}
