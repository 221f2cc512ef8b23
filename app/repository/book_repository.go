package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/rebooked/marketplace/app/models"
)

// bookRepository implements the BookRepository interface
type bookRepository struct {
	db *gorm.DB
}

// NewBookRepository creates a new book repository instance
func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(ctx context.Context, book *models.Book) error {
	return r.db.WithContext(ctx).Create(book).Error
}

func (r *bookRepository) GetByID(ctx context.Context, id string) (*models.Book, error) {
	var book models.Book
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetAvailable(ctx context.Context, id, sellerID string) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Where("id = ? AND seller_id = ? AND sold = ?", id, sellerID, false).
		First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) MarkSold(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Book{}).
		Where("id = ? AND sold = ?", id, false).
		Update("sold", true)
	return res.RowsAffected == 1, res.Error
}

func (r *bookRepository) Relist(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Book{}).
		Where("id = ? AND sold = ?", id, true).
		Update("sold", false)
	return res.RowsAffected == 1, res.Error
}

// profileRepository implements the ProfileRepository interface
type profileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Create(ctx context.Context, p *models.Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *profileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
