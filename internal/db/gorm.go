package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shelfspace-app/shelfspace-back/internal/config"
)

type (
	GormForkedModel struct {
		ID        uint64 `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	User struct {
		GormForkedModel
		// Subject id handed to us by the identity provider. Immutable.
		ExternalID  string `gorm:"uniqueIndex;not null"`
		Username    string `gorm:"size:20;uniqueIndex;not null"`
		Picture     string
		Bookshelves []Bookshelf `gorm:"foreignKey:OwnerID"`
		Reviews     []Review    `gorm:"foreignKey:OwnerID"`
	}

	// Book rows are shared across shelves and deduplicated by ISBN.
	Book struct {
		GormForkedModel
		ISBN         string `gorm:"uniqueIndex;not null"`
		Title        string
		Author       string
		CoverImageID string
		Bookshelves  []Bookshelf `gorm:"many2many:saved_books;"`
		Reviews      []Review    `gorm:"foreignKey:BookID"`
	}

	Bookshelf struct {
		GormForkedModel
		Title   string
		OwnerID uint64 `gorm:"not null"`
		Owner   User   `gorm:"foreignKey:OwnerID"`
		Books   []Book `gorm:"many2many:saved_books;"`
	}

	Review struct {
		GormForkedModel
		Rating  int    `gorm:"not null"`
		Body    string `gorm:"size:200"`
		BookID  uint64 `gorm:"not null"`
		Book    Book
		OwnerID uint64 `gorm:"not null"`
		Owner   User
	}
)

// SavedBooksTable is the shelf-book join table name used by raw queries.
const SavedBooksTable = "saved_books"

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Info,
		Colorful:                  true,
		IgnoreRecordNotFoundError: false,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema. The unique index on books.isbn
// is what turns the concurrent first-add race into a catchable conflict.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Book{}); err != nil {
		return errors.Wrap(err, "migrate book")
	}
	if err := db.AutoMigrate(&Bookshelf{}); err != nil {
		return errors.Wrap(err, "migrate bookshelf")
	}
	if err := db.AutoMigrate(&Review{}); err != nil {
		return errors.Wrap(err, "migrate review")
	}
	return nil
}
