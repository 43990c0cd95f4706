package service

import "lesson_player_backend/internal/util"

// SequencingResolver 基于展平后的全序做 next/previous 解析。
// 展平在图构建时完成一次，单次查询 O(1)。
type SequencingResolver struct {
	graph *ContentGraph
}

func NewSequencingResolver(graph *ContentGraph) *SequencingResolver {
	return &SequencingResolver{graph: graph}
}

// Next 返回当前条目之后的条目；课程末尾返回 nil。
// 同章节内按 order_index 后继，章节末尾跨到下一章节的首条目。
func (r *SequencingResolver) Next(currentItemID uint) (*ItemRef, error) {
	pos, ok := r.graph.Position(currentItemID)
	if !ok {
		return nil, util.ErrItemNotFound
	}
	if pos+1 >= r.graph.Len() {
		return nil, nil
	}
	ref := r.graph.flat[pos+1]
	return &ref, nil
}

// Previous Next 的镜像；课程开头返回 nil。
func (r *SequencingResolver) Previous(currentItemID uint) (*ItemRef, error) {
	pos, ok := r.graph.Position(currentItemID)
	if !ok {
		return nil, util.ErrItemNotFound
	}
	if pos == 0 {
		return nil, nil
	}
	ref := r.graph.flat[pos-1]
	return &ref, nil
}

// First 课程首条目；空课程返回 nil
func (r *SequencingResolver) First() *ItemRef {
	if r.graph.Len() == 0 {
		return nil
	}
	ref := r.graph.flat[0]
	return &ref
}
