package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"staffchat/internal/model"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(chat *model.Chat) error {
	if err := r.db.Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) ListByUser(user string) ([]model.Chat, error) {
	var chats []model.Chat
	if err := r.db.Where("user = ? AND deleted = ?", user, false).Order("updated_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats failed: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) GetByIDAndUser(chatID, user string) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.Where("id = ? AND user = ? AND deleted = ?", chatID, user, false).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}

func (r *ChatRepository) Update(chat *model.Chat) error {
	if err := r.db.Save(chat).Error; err != nil {
		return fmt.Errorf("update chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) UpdateTitle(chatID, title string) error {
	err := r.db.Model(&model.Chat{}).Where("id = ?", chatID).
		Updates(map[string]any{"title": title, "needs_title": false}).Error
	if err != nil {
		return fmt.Errorf("update chat title failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) UpdateSummary(chatID, summary string) error {
	if err := r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("summary", summary).Error; err != nil {
		return fmt.Errorf("update chat summary failed: %w", err)
	}
	return nil
}

// SoftDelete hides the chat from listings. Exchanges and documents stay for
// the cleanup pipeline to process.
func (r *ChatRepository) SoftDelete(chatID, user string) error {
	err := r.db.Model(&model.Chat{}).Where("id = ? AND user = ?", chatID, user).
		Update("deleted", true).Error
	if err != nil {
		return fmt.Errorf("delete chat failed: %w", err)
	}
	return nil
}
