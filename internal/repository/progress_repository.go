package repository

import (
	"lesson_player_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

func (r *ProgressRepository) GetItemProgress(userID, itemID uint) (*model.ItemProgress, error) {
	var progress model.ItemProgress
	err := r.DB.Where("user_id = ? AND item_id = ?", userID, itemID).First(&progress).Error
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *ProgressRepository) CreateItemProgress(p *model.ItemProgress) error {
	return r.DB.Create(p).Error
}

func (r *ProgressRepository) SaveItemProgress(p *model.ItemProgress) error {
	return r.DB.Save(p).Error
}

func (r *ProgressRepository) DeleteItemProgress(p *model.ItemProgress) error {
	return r.DB.Unscoped().Delete(p).Error
}

// ReplaceItemProgress 以权威下发为准重建某学员在某课程下的进度缓存
func (r *ProgressRepository) ReplaceItemProgress(userID, courseID uint, records []model.ItemProgress) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("user_id = ? AND course_id = ?", userID, courseID).
			Delete(&model.ItemProgress{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
}

func (r *ProgressRepository) CountCompletedItems(userID, courseID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.ItemProgress{}).
		Where("user_id = ? AND course_id = ? AND completed = ?", userID, courseID, true).
		Count(&count).Error
	return count, err
}

func (r *ProgressRepository) GetEnrollment(userID, courseID uint) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := r.DB.Where("user_id = ? AND course_id = ?", userID, courseID).First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *ProgressRepository) SaveEnrollment(e *model.Enrollment) error {
	return r.DB.Save(e).Error
}

// UpsertEnrollment 进课时用权威副本刷新缓存
func (r *ProgressRepository) UpsertEnrollment(e *model.Enrollment) error {
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(e).Error
}
