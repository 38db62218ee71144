package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"staffchat/internal/model"
)

type ChatThreadRepository struct {
	db *gorm.DB
}

func NewChatThreadRepository(db *gorm.DB) *ChatThreadRepository {
	return &ChatThreadRepository{db: db}
}

func (r *ChatThreadRepository) Get(chatID string) (*model.ChatThread, error) {
	var thread model.ChatThread
	if err := r.db.Where("chat_id = ?", chatID).First(&thread).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat thread failed: %w", err)
	}
	return &thread, nil
}

// Save records the thread id for a chat. Two concurrent turns can both
// bootstrap a thread; the later write wins and the orphaned remote thread is
// simply never used again.
func (r *ChatThreadRepository) Save(thread *model.ChatThread) error {
	if err := r.db.Save(thread).Error; err != nil {
		return fmt.Errorf("save chat thread failed: %w", err)
	}
	return nil
}
