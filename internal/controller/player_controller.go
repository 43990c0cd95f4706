package controller

import (
	"errors"
	"strconv"

	"lesson_player_backend/internal/service"
	"lesson_player_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type PlayerController struct {
	Sessions *service.SessionManager
}

func NewPlayerController(sessions *service.SessionManager) *PlayerController {
	return &PlayerController{Sessions: sessions}
}

func parseCourseID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(ctx.Param("courseId"))
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "Invalid course ID")
		return 0, false
	}
	return uint(id), true
}

func parseItemID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(ctx.Param("itemId"))
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "Invalid item ID")
		return 0, false
	}
	return uint(id), true
}

// @Summary 进入课程播放
// @Description 拉取权威课程结构并开启（或复用）播放会话
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/enter [post]
func (c *PlayerController) Enter(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}

	session, structure, err := c.Sessions.Enter(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		// 结构拉不下来播放视图开不了，前端应退回课程列表
		if errors.Is(err, util.ErrAuthorityUnavailable) {
			util.BadGateway(ctx, "Course structure unavailable, return to dashboard")
			return
		}
		if errors.Is(err, util.ErrGraphUnordered) {
			util.Error(ctx, 500, "Course structure is inconsistent")
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"sessionId":  session.ID,
		"course":     structure.Course,
		"enrollment": structure.Enrollment,
		"items":      session.Graph().Flatten(),
	})
}

// @Summary 查询缓存的课程大纲
// @Description 返回本地缓存的课程结构，用于恢复视图，不请求远端权威
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/outline [get]
func (c *PlayerController) Outline(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}

	course, err := c.Sessions.CourseOutline(courseID)
	if err != nil {
		if errors.Is(err, util.ErrCourseNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, course)
}

// @Summary 激活课时
// @Description 学员打开某课时，登记当前位置并上报访问事件，返回前后邻接
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param itemId path int true "课时ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/items/{itemId}/activate [post]
func (c *PlayerController) ActivateItem(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}
	itemID, ok := parseItemID(ctx)
	if !ok {
		return
	}

	neighbors, err := c.Sessions.ActivateItem(user.UserID, courseID, itemID)
	if err != nil {
		if errors.Is(err, util.ErrSessionNotFound) || errors.Is(err, util.ErrItemNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, neighbors)
}

// @Summary 查询课时邻接
// @Description 解析某课时的上一条/下一条，课程边界返回 null
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param itemId path int true "课时ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/items/{itemId}/neighbors [get]
func (c *PlayerController) ItemNeighbors(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}
	itemID, ok := parseItemID(ctx)
	if !ok {
		return
	}

	neighbors, err := c.Sessions.ItemNeighbors(user.UserID, courseID, itemID)
	if err != nil {
		if errors.Is(err, util.ErrSessionNotFound) || errors.Is(err, util.ErrItemNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, neighbors)
}

// @Summary 提交课时完成
// @Description 乐观提交完成，等待权威确认后返回新进度、证书闸门状态与下一课时
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param itemId path int true "课时ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/items/{itemId}/complete [post]
func (c *PlayerController) CompleteItem(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}
	itemID, ok := parseItemID(ctx)
	if !ok {
		return
	}

	outcome, err := c.Sessions.CompleteItem(ctx.Request.Context(), user.UserID, courseID, itemID)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrSessionNotFound), errors.Is(err, util.ErrItemNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrCompletionInFlight):
			util.Conflict(ctx, "Completion already in progress")
		case errors.Is(err, util.ErrAuthorityUnavailable):
			// 乐观写已回滚，告知学员本次没有记上
			util.BadGateway(ctx, "Completion was not recorded, please retry")
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, outcome)
}

// @Summary 查询会话状态
// @Description 返回当前播放会话的计时、冲账序号与证书闸门快照
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/session [get]
func (c *PlayerController) SessionState(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}

	state, err := c.Sessions.State(user.UserID, courseID)
	if err != nil {
		if errors.Is(err, util.ErrSessionNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, state)
}

// @Summary 退出课程播放
// @Description 停止计时循环并做一次限时收尾冲账
// @Tags 播放模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/exit [post]
func (c *PlayerController) Exit(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}

	if err := c.Sessions.Exit(user.UserID, courseID); err != nil {
		if errors.Is(err, util.ErrSessionNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"message": "Session closed"})
}
