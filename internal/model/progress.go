package model

import (
	"time"

	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// Enrollment 权威侧报名记录的本地缓存副本。
// progress_percentage 的权威值归远端所有，客户端只做乐观预写与回填。
type Enrollment struct {
	ID                 uint             `gorm:"primaryKey" json:"id"`
	UserID             uint             `gorm:"index:idx_user_course,unique" json:"userId"`
	CourseID           uint             `gorm:"index:idx_user_course,unique" json:"courseId"`
	ProgressPercentage int              `gorm:"default:0" json:"progressPercentage"`
	Status             EnrollmentStatus `gorm:"type:enum('active','completed');default:'active'" json:"status"`
	SyncedAt           time.Time        `json:"syncedAt"`
	CreatedAt          time.Time        `json:"-"`
	UpdatedAt          time.Time        `json:"-"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// ItemProgress 懒创建：首次完成事件才落行，缺行即"未开始"。
// Completed 是单向迁移；Pending 标记乐观更新尚未得到权威确认。
type ItemProgress struct {
	gorm.Model
	UserID      uint `gorm:"index:idx_user_item,unique"`
	ItemID      uint `gorm:"index:idx_user_item,unique"`
	CourseID    uint `gorm:"index"`
	Completed   bool `gorm:"default:false"`
	Pending     bool `gorm:"default:false"`
	CompletedAt *time.Time
}

func (ItemProgress) TableName() string {
	return "item_progress"
}

// Certificate 已领取证书工件的登记，下载从对象存储回放。
type Certificate struct {
	gorm.Model
	UserID      uint   `gorm:"index:idx_user_course_cert,unique"`
	CourseID    uint   `gorm:"index:idx_user_course_cert,unique"`
	ObjectKey   string `gorm:"size:512"`
	ContentType string `gorm:"size:128"`
}

func (Certificate) TableName() string {
	return "certificates"
}
