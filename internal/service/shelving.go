package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/catalog"
	"github.com/shelfspace-app/shelfspace-back/internal/db"
)

// CatalogClient is the slice of the catalog the shelving flows need.
type CatalogClient interface {
	SearchByTitle(ctx context.Context, query string) ([]catalog.SearchDoc, error)
	LookupByIdentifier(ctx context.Context, id string, kind catalog.IDKind) (catalog.BookInfo, error)
}

type (
	// Shelving orchestrates the multi-step use cases that compose the
	// catalog client with the library store.
	Shelving struct {
		catalog CatalogClient
		library *Library
		logger  *zap.SugaredLogger
	}

	// SearchPage is a book search result plus, for a signed-in caller,
	// the shelves the results can be added to.
	SearchPage struct {
		Results []catalog.Result
		Shelves []db.Bookshelf
	}
)

func NewShelving(c CatalogClient, l *Library, logger *zap.SugaredLogger) *Shelving {
	return &Shelving{
		catalog: c,
		library: l,
		logger:  logger,
	}
}

// AddBookToShelf puts the book with the given ISBN on the owner's shelf,
// creating the Book row from a catalog lookup the first time anyone adds
// it. Re-adding an already shelved book succeeds without effect.
func (s *Shelving) AddBookToShelf(ctx context.Context, ownerID, shelfID uint64, isbn string) (*db.Book, error) {
	if isbn == "" {
		return nil, errors.Wrap(apperr.ErrBadRequest, "isbn is required")
	}

	shelf, err := s.library.GetOwnedBookshelf(ctx, shelfID, ownerID)
	if err != nil {
		return nil, err
	}

	book, err := s.library.FindOrCreateBook(ctx, isbn, func(ctx context.Context) (catalog.BookInfo, error) {
		return s.catalog.LookupByIdentifier(ctx, isbn, catalog.KindISBN)
	})
	if err != nil {
		return nil, err
	}

	if err := s.library.AddBookToShelf(ctx, shelf.ID, book.ID); err != nil {
		return nil, err
	}
	return book, nil
}

// RemoveBookFromShelf validates both ids before touching the store.
func (s *Shelving) RemoveBookFromShelf(ctx context.Context, ownerID, shelfID, bookID uint64) error {
	if shelfID == 0 || bookID == 0 {
		return errors.Wrap(apperr.ErrBadRequest, "shelf id and book id are required")
	}

	shelf, err := s.library.GetOwnedBookshelf(ctx, shelfID, ownerID)
	if err != nil {
		return err
	}
	return s.library.RemoveBookFromShelf(ctx, shelf.ID, bookID)
}

func (s *Shelving) DeleteShelf(ctx context.Context, ownerID, shelfID uint64) error {
	if shelfID == 0 {
		return errors.Wrap(apperr.ErrBadRequest, "shelf id is required")
	}

	shelf, err := s.library.GetOwnedBookshelf(ctx, shelfID, ownerID)
	if err != nil {
		return err
	}
	return s.library.DeleteBookshelf(ctx, shelf.ID)
}

// SearchForShelving runs a catalog title search and normalizes it. When a
// user is present their shelves ride along as shelving targets.
func (s *Shelving) SearchForShelving(ctx context.Context, userID *uint64, titleQuery string) (*SearchPage, error) {
	if titleQuery == "" {
		return nil, errors.Wrap(apperr.ErrBadRequest, "search query is required")
	}

	docs, err := s.catalog.SearchByTitle(ctx, titleQuery)
	if err != nil {
		return nil, err
	}

	page := SearchPage{
		Results: catalog.Normalize(docs, catalog.DefaultSearchCap),
	}
	if userID != nil {
		shelves, err := s.library.UserBookshelves(ctx, *userID)
		if err != nil {
			return nil, err
		}
		page.Shelves = shelves
	}
	return &page, nil
}
