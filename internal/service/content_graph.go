package service

import (
	"fmt"
	"sort"

	"lesson_player_backend/internal/model"
	"lesson_player_backend/internal/util"
)

// ItemRef 导航用的条目引用
type ItemRef struct {
	ItemID     uint           `json:"itemId"`
	SectionID  uint           `json:"sectionId"`
	Slug       string         `json:"slug"`
	Title      string         `json:"title"`
	Type       model.ItemType `json:"type"`
	OrderIndex int            `json:"orderIndex"`
}

// ContentGraph 课程结构的不可变内存视图。
// 构建时按 (section.order_index, item.order_index) 排好全序并展平，
// 此后不再变更；课程编辑需要重建新图，而不是原地修补。
type ContentGraph struct {
	course model.Course
	flat   []ItemRef
	pos    map[uint]int
}

func NewContentGraph(course *model.Course) (*ContentGraph, error) {
	g := &ContentGraph{
		course: *course,
		pos:    make(map[uint]int),
	}

	sections := make([]model.Section, len(course.Sections))
	copy(sections, course.Sections)
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].OrderIndex < sections[j].OrderIndex
	})

	// order_index 在各自父域内必须唯一，否则全序不成立
	seenSection := make(map[int]bool, len(sections))
	for si := range sections {
		if seenSection[sections[si].OrderIndex] {
			return nil, fmt.Errorf("%w: section order_index %d", util.ErrGraphUnordered, sections[si].OrderIndex)
		}
		seenSection[sections[si].OrderIndex] = true

		items := make([]model.Item, len(sections[si].Items))
		copy(items, sections[si].Items)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].OrderIndex < items[j].OrderIndex
		})
		sections[si].Items = items

		seenItem := make(map[int]bool, len(items))
		for _, item := range items {
			if seenItem[item.OrderIndex] {
				return nil, fmt.Errorf("%w: item order_index %d in section %d", util.ErrGraphUnordered, item.OrderIndex, sections[si].ID)
			}
			seenItem[item.OrderIndex] = true

			if _, dup := g.pos[item.ID]; dup {
				return nil, fmt.Errorf("duplicate item id %d in course %d", item.ID, course.ID)
			}
			g.pos[item.ID] = len(g.flat)
			g.flat = append(g.flat, ItemRef{
				ItemID:     item.ID,
				SectionID:  sections[si].ID,
				Slug:       item.Slug,
				Title:      item.Title,
				Type:       item.Type,
				OrderIndex: item.OrderIndex,
			})
		}
	}

	g.course.Sections = sections
	return g, nil
}

// Course 返回排好序的课程树
func (g *ContentGraph) Course() *model.Course {
	return &g.course
}

func (g *ContentGraph) ItemAt(sectionID, itemID uint) (*model.Item, error) {
	for si := range g.course.Sections {
		if g.course.Sections[si].ID != sectionID {
			continue
		}
		for ii := range g.course.Sections[si].Items {
			if g.course.Sections[si].Items[ii].ID == itemID {
				return &g.course.Sections[si].Items[ii], nil
			}
		}
	}
	return nil, util.ErrItemNotFound
}

// Flatten 跨章节的全序条目序列
func (g *ContentGraph) Flatten() []ItemRef {
	out := make([]ItemRef, len(g.flat))
	copy(out, g.flat)
	return out
}

func (g *ContentGraph) Len() int {
	return len(g.flat)
}

// Position 条目在全序中的下标
func (g *ContentGraph) Position(itemID uint) (int, bool) {
	p, ok := g.pos[itemID]
	return p, ok
}

func (g *ContentGraph) Contains(itemID uint) bool {
	_, ok := g.pos[itemID]
	return ok
}
