package service

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shelfspace-app/shelfspace-back/internal/apperr"
	"github.com/shelfspace-app/shelfspace-back/internal/catalog"
	"github.com/shelfspace-app/shelfspace-back/internal/db"
)

const (
	maxReviewRating = 5
	minReviewRating = 1
	maxReviewLen    = 200

	// ShelfSearchLimit caps full-text shelf search results.
	ShelfSearchLimit = 10
)

// Library owns every interaction with the relational store.
type Library struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewLibrary(db *gorm.DB, l *zap.SugaredLogger) *Library {
	return &Library{
		db:     db,
		logger: l,
	}
}

// storeErr maps gorm failures onto the shared error kinds. Record-not-found
// and duplicate-key keep their meaning; everything else is the store being
// unavailable.
func storeErr(err error, msg string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(apperr.ErrNotFound, msg)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(apperr.ErrConflict, msg)
	default:
		return errors.Wrap(apperr.ErrStoreUnavailable, msg+": "+err.Error())
	}
}

func (s *Library) CreateUser(ctx context.Context, externalID, username, picture string) (*db.User, error) {
	model := db.User{
		ExternalID: externalID,
		Username:   username,
		Picture:    picture,
	}
	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return nil, storeErr(res.Error, "create user")
	}
	return &model, nil
}

func (s *Library) GetUserByExternalID(ctx context.Context, externalID string) (*db.User, error) {
	user := db.User{}
	res := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user)
	if res.Error != nil {
		return nil, storeErr(res.Error, "get user by external id")
	}
	return &user, nil
}

func (s *Library) GetUser(ctx context.Context, id uint64) (*db.User, error) {
	user := db.User{}
	res := s.db.WithContext(ctx).First(&user, id)
	if res.Error != nil {
		return nil, storeErr(res.Error, "get user")
	}
	return &user, nil
}

// FindOrCreateBook resolves a book by ISBN, lazily creating the row from
// the info provider on first sight. Two concurrent first-adds can both see
// "absent"; the unique index on isbn turns the losing insert into a
// duplicate-key error, which is retried as a lookup.
func (s *Library) FindOrCreateBook(ctx context.Context, isbn string, info func(context.Context) (catalog.BookInfo, error)) (*db.Book, error) {
	book := db.Book{}
	res := s.db.WithContext(ctx).Where("isbn = ?", isbn).First(&book)
	if res.Error == nil {
		return &book, nil
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, storeErr(res.Error, "find book")
	}

	bookInfo, err := info(ctx)
	if err != nil {
		return nil, err
	}

	book = db.Book{
		ISBN:         isbn,
		Title:        bookInfo.Title,
		Author:       bookInfo.Author,
		CoverImageID: bookInfo.CoverImageID,
	}
	res = s.db.WithContext(ctx).Create(&book)
	if res.Error == nil {
		return &book, nil
	}
	if !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, storeErr(res.Error, "create book")
	}

	s.logger.Infow("book insert lost a race, retrying as lookup", "isbn", isbn)
	book = db.Book{}
	res = s.db.WithContext(ctx).Where("isbn = ?", isbn).First(&book)
	if res.Error != nil {
		return nil, storeErr(res.Error, "find book after conflict")
	}
	return &book, nil
}

func (s *Library) GetBook(ctx context.Context, id uint64) (*db.Book, error) {
	book := db.Book{}
	res := s.db.WithContext(ctx).First(&book, id)
	if res.Error != nil {
		return nil, storeErr(res.Error, "get book")
	}
	return &book, nil
}

func (s *Library) CreateBookshelf(ctx context.Context, ownerID uint64, title string) (*db.Bookshelf, error) {
	model := db.Bookshelf{
		Title:   title,
		OwnerID: ownerID,
	}
	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return nil, storeErr(res.Error, "create bookshelf")
	}
	return &model, nil
}

func (s *Library) GetBookshelf(ctx context.Context, id uint64) (*db.Bookshelf, error) {
	shelf := db.Bookshelf{}
	res := s.db.WithContext(ctx).Preload("Books").Preload("Owner").First(&shelf, id)
	if res.Error != nil {
		return nil, storeErr(res.Error, "get bookshelf")
	}
	return &shelf, nil
}

// GetOwnedBookshelf resolves a shelf only when it belongs to ownerID. A
// foreign shelf reads as not found so callers cannot probe for existence.
func (s *Library) GetOwnedBookshelf(ctx context.Context, id, ownerID uint64) (*db.Bookshelf, error) {
	shelf := db.Bookshelf{}
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&shelf)
	if res.Error != nil {
		return nil, storeErr(res.Error, "get owned bookshelf")
	}
	return &shelf, nil
}

func (s *Library) ListBookshelves(ctx context.Context, limit int) ([]db.Bookshelf, error) {
	shelves := make([]db.Bookshelf, 0)
	res := s.db.WithContext(ctx).Order("id").Limit(limit).Preload("Owner").Find(&shelves)
	if res.Error != nil {
		return nil, storeErr(res.Error, "list bookshelves")
	}
	return shelves, nil
}

func (s *Library) UserBookshelves(ctx context.Context, ownerID uint64) ([]db.Bookshelf, error) {
	shelves := make([]db.Bookshelf, 0)
	res := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&shelves)
	if res.Error != nil {
		return nil, storeErr(res.Error, "user bookshelves")
	}
	return shelves, nil
}

// DeleteBookshelf drops the shelf's association rows and then the shelf
// itself in one transaction. Book rows are shared between shelves and are
// never touched.
func (s *Library) DeleteBookshelf(ctx context.Context, id uint64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sql, args, err := squirrel.
			Delete(db.SavedBooksTable).
			Where(squirrel.Eq{"bookshelf_id": id}).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "build sql")
		}
		if res := tx.Exec(sql, args...); res.Error != nil {
			return res.Error
		}
		res := tx.Delete(&db.Bookshelf{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return storeErr(err, "delete bookshelf")
	}
	return nil
}

// AddBookToShelf links a book to a shelf. Re-adding is a no-op: the
// association append upserts the join row.
func (s *Library) AddBookToShelf(ctx context.Context, shelfID, bookID uint64) error {
	shelf := db.Bookshelf{GormForkedModel: db.GormForkedModel{ID: shelfID}}
	book := db.Book{GormForkedModel: db.GormForkedModel{ID: bookID}}
	err := s.db.WithContext(ctx).Model(&shelf).Association("Books").Append(&book)
	if err != nil {
		return storeErr(err, "add book to shelf")
	}
	return nil
}

// RemoveBookFromShelf unlinks a book. Removing a book that is not on the
// shelf reports not found instead of silently passing.
func (s *Library) RemoveBookFromShelf(ctx context.Context, shelfID, bookID uint64) error {
	sql, args, err := squirrel.
		Delete(db.SavedBooksTable).
		Where(squirrel.Eq{"bookshelf_id": shelfID, "book_id": bookID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build sql")
	}
	res := s.db.WithContext(ctx).Exec(sql, args...)
	if res.Error != nil {
		return storeErr(res.Error, "remove book from shelf")
	}
	if res.RowsAffected == 0 {
		return errors.Wrap(apperr.ErrNotFound, "book is not on the shelf")
	}
	return nil
}

// SearchBookshelves is a parameterized full-text title match. Postgres
// gets a tsvector query; other dialects (sqlite in tests) fall back to a
// substring match.
func (s *Library) SearchBookshelves(ctx context.Context, query string, limit int) ([]db.Bookshelf, error) {
	builder := squirrel.
		Select("id", "title", "owner_id").
		From("bookshelves").
		OrderBy("id").
		Limit(uint64(limit))
	if s.db.Dialector.Name() == "postgres" {
		builder = builder.Where(squirrel.Expr(
			"to_tsvector('english', title) @@ plainto_tsquery('english', ?)", query))
	} else {
		builder = builder.Where(squirrel.Like{"title": "%" + query + "%"})
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build sql")
	}

	shelves := make([]db.Bookshelf, 0)
	res := s.db.WithContext(ctx).Raw(sql, args...).Scan(&shelves)
	if res.Error != nil {
		return nil, storeErr(res.Error, "search bookshelves")
	}
	return shelves, nil
}

func (s *Library) CreateReview(ctx context.Context, ownerID, bookID uint64, rating int, body string) (*db.Review, error) {
	if rating < minReviewRating || rating > maxReviewRating {
		return nil, errors.Wrapf(apperr.ErrBadRequest, "rating must be between %d and %d", minReviewRating, maxReviewRating)
	}
	if len(body) > maxReviewLen {
		return nil, errors.Wrapf(apperr.ErrBadRequest, "review body exceeds %d characters", maxReviewLen)
	}
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}

	model := db.Review{
		Rating:  rating,
		Body:    body,
		BookID:  bookID,
		OwnerID: ownerID,
	}
	res := s.db.WithContext(ctx).Create(&model)
	if res.Error != nil {
		return nil, storeErr(res.Error, "create review")
	}
	return &model, nil
}

func (s *Library) BookReviews(ctx context.Context, bookID uint64) ([]db.Review, error) {
	reviews := make([]db.Review, 0)
	res := s.db.WithContext(ctx).Where("book_id = ?", bookID).Order("id").Find(&reviews)
	if res.Error != nil {
		return nil, storeErr(res.Error, "book reviews")
	}
	return reviews, nil
}

func (s *Library) UserReviews(ctx context.Context, ownerID uint64) ([]db.Review, error) {
	reviews := make([]db.Review, 0)
	res := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&reviews)
	if res.Error != nil {
		return nil, storeErr(res.Error, "user reviews")
	}
	return reviews, nil
}
