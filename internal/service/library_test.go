package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/catalog"
	"github.com/shelfspace-app/shelfspace-back/internal/db"
)

func newTestLibrary(t *testing.T) (*Library, *gorm.DB) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	return NewLibrary(conn, zap.NewNop().Sugar()), conn
}

func seedUser(t *testing.T, lib *Library, externalID, username string) *db.User {
	t.Helper()
	user, err := lib.CreateUser(context.Background(), externalID, username, "")
	require.NoError(t, err)
	return user
}

func seedShelf(t *testing.T, lib *Library, ownerID uint64, title string) *db.Bookshelf {
	t.Helper()
	shelf, err := lib.CreateBookshelf(context.Background(), ownerID, title)
	require.NoError(t, err)
	return shelf
}

func seedBook(t *testing.T, lib *Library, isbn, title string) *db.Book {
	t.Helper()
	book, err := lib.FindOrCreateBook(context.Background(), isbn, func(context.Context) (catalog.BookInfo, error) {
		return catalog.BookInfo{Title: title, Author: "Author", CoverImageID: "1"}, nil
	})
	require.NoError(t, err)
	return book
}

func associationCount(t *testing.T, conn *gorm.DB, shelfID uint64) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Table(db.SavedBooksTable).Where("bookshelf_id = ?", shelfID).Count(&count).Error)
	return count
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	lib, _ := newTestLibrary(t)

	seedUser(t, lib, "auth0|one", "reader")

	_, err := lib.CreateUser(context.Background(), "auth0|two", "reader", "")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestGetUserByExternalID(t *testing.T) {
	lib, _ := newTestLibrary(t)

	created := seedUser(t, lib, "auth0|one", "reader")

	got, err := lib.GetUserByExternalID(context.Background(), "auth0|one")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = lib.GetUserByExternalID(context.Background(), "auth0|unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFindOrCreateBookDedupes(t *testing.T) {
	lib, conn := newTestLibrary(t)

	providerCalls := 0
	provider := func(context.Context) (catalog.BookInfo, error) {
		providerCalls++
		return catalog.BookInfo{Title: "Dune", Author: "Frank Herbert", CoverImageID: "11481354"}, nil
	}

	first, err := lib.FindOrCreateBook(context.Background(), "9780441013593", provider)
	require.NoError(t, err)
	second, err := lib.FindOrCreateBook(context.Background(), "9780441013593", provider)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, providerCalls)

	var count int64
	require.NoError(t, conn.Model(&db.Book{}).Where("isbn = ?", "9780441013593").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreateBookProviderFailurePropagates(t *testing.T) {
	lib, conn := newTestLibrary(t)

	_, err := lib.FindOrCreateBook(context.Background(), "9780441013593", func(context.Context) (catalog.BookInfo, error) {
		return catalog.BookInfo{}, apperr.ErrUpstreamUnavailable
	})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	var count int64
	require.NoError(t, conn.Model(&db.Book{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestFindOrCreateBookConcurrent(t *testing.T) {
	lib, conn := newTestLibrary(t)

	const workers = 4
	var wg sync.WaitGroup
	ids := make([]uint64, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			book, err := lib.FindOrCreateBook(context.Background(), "9780441013593", func(context.Context) (catalog.BookInfo, error) {
				return catalog.BookInfo{Title: "Dune"}, nil
			})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = book.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, conn.Model(&db.Book{}).Where("isbn = ?", "9780441013593").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAddBookToShelfIsIdempotent(t *testing.T) {
	lib, conn := newTestLibrary(t)

	user := seedUser(t, lib, "auth0|one", "reader")
	shelf := seedShelf(t, lib, user.ID, "to-read")
	book := seedBook(t, lib, "9780441013593", "Dune")

	require.NoError(t, lib.AddBookToShelf(context.Background(), shelf.ID, book.ID))
	require.NoError(t, lib.AddBookToShelf(context.Background(), shelf.ID, book.ID))

	assert.Equal(t, int64(1), associationCount(t, conn, shelf.ID))
}

func TestRemoveBookFromShelf(t *testing.T) {
	lib, conn := newTestLibrary(t)

	user := seedUser(t, lib, "auth0|one", "reader")
	shelf := seedShelf(t, lib, user.ID, "to-read")
	book := seedBook(t, lib, "9780441013593", "Dune")
	require.NoError(t, lib.AddBookToShelf(context.Background(), shelf.ID, book.ID))

	require.NoError(t, lib.RemoveBookFromShelf(context.Background(), shelf.ID, book.ID))
	assert.Equal(t, int64(0), associationCount(t, conn, shelf.ID))

	// Removing again reports the absence instead of silently passing.
	err := lib.RemoveBookFromShelf(context.Background(), shelf.ID, book.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteBookshelfKeepsSharedBooks(t *testing.T) {
	lib, conn := newTestLibrary(t)

	user := seedUser(t, lib, "auth0|one", "reader")
	s1 := seedShelf(t, lib, user.ID, "s1")
	s2 := seedShelf(t, lib, user.ID, "s2")

	isbns := []string{"1111111111", "2222222222", "3333333333"}
	for _, isbn := range isbns {
		book := seedBook(t, lib, isbn, "Shared "+isbn)
		require.NoError(t, lib.AddBookToShelf(context.Background(), s1.ID, book.ID))
		require.NoError(t, lib.AddBookToShelf(context.Background(), s2.ID, book.ID))
	}

	require.NoError(t, lib.DeleteBookshelf(context.Background(), s1.ID))

	_, err := lib.GetBookshelf(context.Background(), s1.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, int64(0), associationCount(t, conn, s1.ID))
	assert.Equal(t, int64(3), associationCount(t, conn, s2.ID))

	var books int64
	require.NoError(t, conn.Model(&db.Book{}).Count(&books).Error)
	assert.Equal(t, int64(3), books)
}

func TestDeleteBookshelfNotFound(t *testing.T) {
	lib, _ := newTestLibrary(t)

	err := lib.DeleteBookshelf(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetOwnedBookshelf(t *testing.T) {
	lib, _ := newTestLibrary(t)

	owner := seedUser(t, lib, "auth0|one", "reader")
	other := seedUser(t, lib, "auth0|two", "other")
	shelf := seedShelf(t, lib, owner.ID, "to-read")

	got, err := lib.GetOwnedBookshelf(context.Background(), shelf.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, shelf.ID, got.ID)

	_, err = lib.GetOwnedBookshelf(context.Background(), shelf.ID, other.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSearchBookshelves(t *testing.T) {
	lib, _ := newTestLibrary(t)

	user := seedUser(t, lib, "auth0|one", "reader")
	seedShelf(t, lib, user.ID, "science fiction classics")
	seedShelf(t, lib, user.ID, "cookbooks")
	seedShelf(t, lib, user.ID, "modern science writing")

	got, err := lib.SearchBookshelves(context.Background(), "science", ShelfSearchLimit)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "science fiction classics", got[0].Title)
	assert.Equal(t, "modern science writing", got[1].Title)
}

func TestSearchBookshelvesLimit(t *testing.T) {
	lib, _ := newTestLibrary(t)

	user := seedUser(t, lib, "auth0|one", "reader")
	for i := 0; i < 12; i++ {
		seedShelf(t, lib, user.ID, "shared prefix shelf")
	}

	got, err := lib.SearchBookshelves(context.Background(), "shared prefix", ShelfSearchLimit)
	require.NoError(t, err)
	assert.Len(t, got, ShelfSearchLimit)
}

func TestCreateReviewBounds(t *testing.T) {
	lib, _ := newTestLibrary(t)

	user := seedUser(t, lib, "auth0|one", "reader")
	book := seedBook(t, lib, "9780441013593", "Dune")

	_, err := lib.CreateReview(context.Background(), user.ID, book.ID, 0, "meh")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = lib.CreateReview(context.Background(), user.ID, book.ID, 6, "meh")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	_, err = lib.CreateReview(context.Background(), user.ID, book.ID, 3, string(long))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = lib.CreateReview(context.Background(), user.ID, 999, 3, "fine")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	review, err := lib.CreateReview(context.Background(), user.ID, book.ID, 5, "a classic")
	require.NoError(t, err)
	assert.Equal(t, 5, review.Rating)

	reviews, err := lib.BookReviews(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}
