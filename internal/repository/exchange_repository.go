package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"staffchat/internal/model"
)

type ExchangeRepository struct {
	db *gorm.DB
}

func NewExchangeRepository(db *gorm.DB) *ExchangeRepository {
	return &ExchangeRepository{db: db}
}

func (r *ExchangeRepository) Create(exchange *model.Exchange) error {
	if err := r.db.Create(exchange).Error; err != nil {
		return fmt.Errorf("create exchange failed: %w", err)
	}
	return nil
}

// ListByChatID returns the chat history oldest first, excluding deleted rows.
func (r *ExchangeRepository) ListByChatID(chatID string) ([]model.Exchange, error) {
	var exchanges []model.Exchange
	if err := r.db.Where("chat_id = ? AND deleted = ?", chatID, false).Order("id ASC").Find(&exchanges).Error; err != nil {
		return nil, fmt.Errorf("list exchanges failed: %w", err)
	}
	return exchanges, nil
}

func (r *ExchangeRepository) GetByID(id uint) (*model.Exchange, error) {
	var exchange model.Exchange
	if err := r.db.First(&exchange, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get exchange failed: %w", err)
	}
	return &exchange, nil
}

// CountSince counts live exchanges created after the given exchange id. Used
// to decide whether a chat has accumulated enough turns for re-summarizing.
func (r *ExchangeRepository) CountSince(chatID string, lastExchangeID uint) (int, error) {
	var count int64
	err := r.db.Model(&model.Exchange{}).
		Where("chat_id = ? AND id > ? AND deleted = ?", chatID, lastExchangeID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count exchanges failed: %w", err)
	}
	return int(count), nil
}

func (r *ExchangeRepository) SoftDelete(id uint, chatID string) error {
	err := r.db.Model(&model.Exchange{}).Where("id = ? AND chat_id = ?", id, chatID).
		Update("deleted", true).Error
	if err != nil {
		return fmt.Errorf("delete exchange failed: %w", err)
	}
	return nil
}
