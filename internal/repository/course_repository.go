package repository

import (
	"time"

	"lesson_player_backend/internal/model"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

// Replace 整树替换缓存：课程结构变更走重建，不做原地修补
func (r *CourseRepository) Replace(course *model.Course) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var sectionIDs []uint
		if err := tx.Model(&model.Section{}).Where("course_id = ?", course.ID).Pluck("id", &sectionIDs).Error; err != nil {
			return err
		}
		if len(sectionIDs) > 0 {
			if err := tx.Where("section_id IN ?", sectionIDs).Delete(&model.Item{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("course_id = ?", course.ID).Delete(&model.Section{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", course.ID).Delete(&model.Course{}).Error; err != nil {
			return err
		}

		course.RefreshedAt = time.Now()
		return tx.Create(course).Error
	})
}

func (r *CourseRepository) FindByID(id uint) (*model.Course, error) {
	var course model.Course
	err := r.DB.
		Preload("Sections", func(db *gorm.DB) *gorm.DB {
			return db.Order("sections.order_index ASC")
		}).
		Preload("Sections.Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("items.order_index ASC")
		}).
		First(&course, id).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}
