package model

import "time"

type ItemType string

const (
	ItemLecture    ItemType = "lecture"
	ItemQuiz       ItemType = "quiz"
	ItemAssignment ItemType = "assignment"
)

// Course 远端权威下发的课程结构的本地缓存。
// 主键沿用权威侧 ID，课程结构变更时整棵树重建，不做原地修补。
type Course struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Slug        string    `gorm:"size:255;index" json:"slug"`
	Title       string    `gorm:"size:255" json:"title"`
	RefreshedAt time.Time `json:"refreshedAt"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
	Sections    []Section `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"sections"`
}

func (Course) TableName() string {
	return "courses"
}

type Section struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CourseID   uint      `gorm:"index" json:"courseId"`
	Title      string    `gorm:"size:255" json:"title"`
	OrderIndex int       `gorm:"index" json:"orderIndex"`
	Items      []Item    `gorm:"foreignKey:SectionID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

func (Section) TableName() string {
	return "sections"
}

type Item struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SectionID       uint      `gorm:"index" json:"sectionId"`
	Slug            string    `gorm:"size:255" json:"slug"`
	Title           string    `gorm:"size:255" json:"title"`
	Type            ItemType  `gorm:"type:enum('lecture','quiz','assignment');default:'lecture'" json:"type"`
	DurationMinutes int       `gorm:"default:0" json:"durationMinutes"`
	OrderIndex      int       `gorm:"index" json:"orderIndex"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

func (Item) TableName() string {
	return "items"
}
