// Package library holds the modeled types shared by package tests: a small
// catalogue of people, books, chapters and paragraphs, plus a
// self-referencing category tree.
package library

import (
	"database/sql"

	"relmap/internal/schema"
)

type Person struct {
	Id    int64
	Name  string
	Email sql.NullString
	Books []*Book
}

func (Person) Model() schema.Descriptor {
	return schema.Descriptor{
		Table: "people",
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true, AutoGenerated: true},
			{Field: "Name", MaxLength: 120},
			{Field: "Email", Nullable: true},
		},
		Collections: []schema.Collection{
			{Field: "Books", ForeignKey: "AuthorId"},
		},
	}
}

type Status int

const (
	Draft Status = iota
	Published
	Retired
)

type Book struct {
	Id        int64
	AuthorId  int64
	EditorId  *int64
	Title     string
	Available bool
	Status    Status
	Author    *Person
	Editor    *Person
	Chapters  []*Chapter
}

func (Book) Model() schema.Descriptor {
	return schema.Descriptor{
		Table: "books",
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true, AutoGenerated: true},
			{Field: "AuthorId", Name: "author_id"},
			{Field: "EditorId", Name: "editor_id", Nullable: true},
			{Field: "Title", MaxLength: 200},
			{Field: "Available"},
			{Field: "Status"},
		},
		References: []schema.Reference{
			{Field: "Author", ForeignKey: "AuthorId"},
			{Field: "Editor", ForeignKey: "EditorId"},
		},
		Collections: []schema.Collection{
			{Field: "Chapters", ForeignKey: "BookId"},
		},
	}
}

type Chapter struct {
	Id         int64
	BookId     int64
	Title      string
	Book       *Book
	Paragraphs []Paragraph
}

func (Chapter) Model() schema.Descriptor {
	return schema.Descriptor{
		Table: "chapters",
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true},
			{Field: "BookId", Name: "book_id"},
			{Field: "Title"},
		},
		References: []schema.Reference{
			{Field: "Book", ForeignKey: "BookId"},
		},
		Collections: []schema.Collection{
			{Field: "Paragraphs", ForeignKey: "ChapterId", AlwaysInclude: true},
		},
	}
}

type Paragraph struct {
	Id        int64
	ChapterId int64
	Body      string
}

func (Paragraph) Model() schema.Descriptor {
	return schema.Descriptor{
		Table: "paragraphs",
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true},
			{Field: "ChapterId", Name: "chapter_id"},
			{Field: "Body"},
		},
	}
}

// Category references itself both ways.
type Category struct {
	Id       int64
	ParentId *int64
	Name     string
	Parent   *Category
	Children []*Category
}

func (Category) Model() schema.Descriptor {
	return schema.Descriptor{
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true},
			{Field: "ParentId", Name: "parent_id", Nullable: true},
			{Field: "Name"},
		},
		References: []schema.Reference{
			{Field: "Parent", ForeignKey: "ParentId"},
		},
		Collections: []schema.Collection{
			{Field: "Children", ForeignKey: "ParentId"},
		},
	}
}

// Tag has no relationships.
type Tag struct {
	Id    int64
	Label string
}

func (Tag) Model() schema.Descriptor {
	return schema.Descriptor{
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true},
			{Field: "Label"},
		},
	}
}

// Note has no primary key.
type Note struct {
	BookId int64
	Text   string
	Book   *Book
}

func (Note) Model() schema.Descriptor {
	return schema.Descriptor{
		Columns: []schema.Column{
			{Field: "BookId", Name: "book_id"},
			{Field: "Text"},
		},
		References: []schema.Reference{
			{Field: "Book", ForeignKey: "BookId"},
		},
	}
}

// Review points at a type that has no primary key.
type Review struct {
	Id     int64
	NoteId int64
	Note   *Note
}

func (Review) Model() schema.Descriptor {
	return schema.Descriptor{
		Columns: []schema.Column{
			{Field: "Id", PrimaryKey: true},
			{Field: "NoteId"},
		},
		References: []schema.Reference{
			{Field: "Note", ForeignKey: "NoteId"},
		},
	}
}

// SQLiteSchema creates the tables of the library models.
const SQLiteSchema = `
CREATE TABLE people (Id INTEGER PRIMARY KEY AUTOINCREMENT, Name TEXT NOT NULL, Email TEXT);
CREATE TABLE books (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	author_id INTEGER NOT NULL REFERENCES people(Id),
	editor_id INTEGER REFERENCES people(Id),
	Title TEXT NOT NULL,
	Available INTEGER NOT NULL DEFAULT 0,
	Status INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE chapters (Id INTEGER PRIMARY KEY, book_id INTEGER NOT NULL, Title TEXT NOT NULL);
CREATE TABLE paragraphs (Id INTEGER PRIMARY KEY, chapter_id INTEGER NOT NULL, Body TEXT NOT NULL);
CREATE TABLE tags (Id INTEGER PRIMARY KEY, Label TEXT NOT NULL);
`
