package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/catalog"
	"github.com/shelfspace-app/shelfspace-back/internal/db"
)

type stubCatalog struct {
	docs      []catalog.SearchDoc
	searchErr error
	info      catalog.BookInfo
	lookupErr error
	lookups   int
}

func (s *stubCatalog) SearchByTitle(ctx context.Context, query string) ([]catalog.SearchDoc, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.docs, nil
}

func (s *stubCatalog) LookupByIdentifier(ctx context.Context, id string, kind catalog.IDKind) (catalog.BookInfo, error) {
	s.lookups++
	if s.lookupErr != nil {
		return catalog.BookInfo{}, s.lookupErr
	}
	return s.info, nil
}

func newTestShelving(t *testing.T, stub *stubCatalog) (*Shelving, *Library, *db.User) {
	t.Helper()
	lib, _ := newTestLibrary(t)
	user := seedUser(t, lib, "auth0|one", "reader")
	return NewShelving(stub, lib, zap.NewNop().Sugar()), lib, user
}

func TestShelvingAddBookCreatesAndLinks(t *testing.T) {
	stub := &stubCatalog{info: catalog.BookInfo{Title: "Dune", Author: "Frank Herbert", CoverImageID: "11481354"}}
	shelving, lib, user := newTestShelving(t, stub)
	shelf := seedShelf(t, lib, user.ID, "to-read")

	book, err := shelving.AddBookToShelf(context.Background(), user.ID, shelf.ID, "9780441013593")
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, 1, stub.lookups)

	// Second add with the same isbn: no new lookup, no new association.
	again, err := shelving.AddBookToShelf(context.Background(), user.ID, shelf.ID, "9780441013593")
	require.NoError(t, err)
	assert.Equal(t, book.ID, again.ID)
	assert.Equal(t, 1, stub.lookups)

	got, err := lib.GetBookshelf(context.Background(), shelf.ID)
	require.NoError(t, err)
	assert.Len(t, got.Books, 1)
}

func TestShelvingAddBookRequiresISBN(t *testing.T) {
	shelving, lib, user := newTestShelving(t, &stubCatalog{})
	shelf := seedShelf(t, lib, user.ID, "to-read")

	_, err := shelving.AddBookToShelf(context.Background(), user.ID, shelf.ID, "")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestShelvingAddBookUnknownShelf(t *testing.T) {
	stub := &stubCatalog{}
	shelving, _, user := newTestShelving(t, stub)

	_, err := shelving.AddBookToShelf(context.Background(), user.ID, 42, "9780441013593")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 0, stub.lookups)
}

func TestShelvingAddBookLookupFailure(t *testing.T) {
	stub := &stubCatalog{lookupErr: apperr.ErrUpstreamUnavailable}
	shelving, lib, user := newTestShelving(t, stub)
	shelf := seedShelf(t, lib, user.ID, "to-read")

	_, err := shelving.AddBookToShelf(context.Background(), user.ID, shelf.ID, "9780441013593")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestShelvingRemoveBookValidatesIDs(t *testing.T) {
	shelving, lib, user := newTestShelving(t, &stubCatalog{info: catalog.BookInfo{Title: "Dune"}})
	shelf := seedShelf(t, lib, user.ID, "to-read")
	book, err := shelving.AddBookToShelf(context.Background(), user.ID, shelf.ID, "9780441013593")
	require.NoError(t, err)

	// Missing ids fail before any store mutation.
	err = shelving.RemoveBookFromShelf(context.Background(), user.ID, 0, book.ID)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	err = shelving.RemoveBookFromShelf(context.Background(), user.ID, shelf.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	got, err := lib.GetBookshelf(context.Background(), shelf.ID)
	require.NoError(t, err)
	assert.Len(t, got.Books, 1)

	require.NoError(t, shelving.RemoveBookFromShelf(context.Background(), user.ID, shelf.ID, book.ID))
}

func TestShelvingRemoveBookForeignShelf(t *testing.T) {
	shelving, lib, user := newTestShelving(t, &stubCatalog{info: catalog.BookInfo{Title: "Dune"}})
	other := seedUser(t, lib, "auth0|two", "other")
	shelf := seedShelf(t, lib, other.ID, "not-yours")
	book := seedBook(t, lib, "9780441013593", "Dune")
	require.NoError(t, lib.AddBookToShelf(context.Background(), shelf.ID, book.ID))

	err := shelving.RemoveBookFromShelf(context.Background(), user.ID, shelf.ID, book.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestShelvingDeleteShelf(t *testing.T) {
	shelving, lib, user := newTestShelving(t, &stubCatalog{info: catalog.BookInfo{Title: "Dune"}})
	shelf := seedShelf(t, lib, user.ID, "to-read")
	_, err := shelving.AddBookToShelf(context.Background(), user.ID, shelf.ID, "9780441013593")
	require.NoError(t, err)

	require.NoError(t, shelving.DeleteShelf(context.Background(), user.ID, shelf.ID))

	_, err = lib.GetBookshelf(context.Background(), shelf.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestShelvingSearchAnonymous(t *testing.T) {
	cover := int64(135182)
	stub := &stubCatalog{docs: []catalog.SearchDoc{{
		Key:         "/works/OL893415W",
		Title:       "The Dispossessed",
		CoverID:     &cover,
		AuthorNames: []string{"Ursula K. Le Guin"},
		ISBNs:       []string{"9780061054884"},
	}}}
	shelving, _, _ := newTestShelving(t, stub)

	page, err := shelving.SearchForShelving(context.Background(), nil, "dispossessed")
	require.NoError(t, err)

	require.Len(t, page.Results, 1)
	assert.Equal(t, "OL893415W", page.Results[0].WorkID)
	assert.Nil(t, page.Shelves)
}

func TestShelvingSearchWithUserReturnsShelves(t *testing.T) {
	shelving, lib, user := newTestShelving(t, &stubCatalog{})
	seedShelf(t, lib, user.ID, "to-read")
	seedShelf(t, lib, user.ID, "favorites")

	page, err := shelving.SearchForShelving(context.Background(), &user.ID, "anything")
	require.NoError(t, err)

	assert.Empty(t, page.Results)
	assert.Len(t, page.Shelves, 2)
}

func TestShelvingSearchRequiresQuery(t *testing.T) {
	shelving, _, user := newTestShelving(t, &stubCatalog{})

	_, err := shelving.SearchForShelving(context.Background(), &user.ID, "")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestShelvingSearchUpstreamFailure(t *testing.T) {
	shelving, _, _ := newTestShelving(t, &stubCatalog{searchErr: apperr.ErrUpstreamUnavailable})

	_, err := shelving.SearchForShelving(context.Background(), nil, "anything")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}
