package controller

import (
	"errors"
	"fmt"
	"io"

	"lesson_player_backend/internal/service"
	"lesson_player_backend/internal/util"
	"lesson_player_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CertificateController struct {
	Certificates *service.CertificateService
}

func NewCertificateController(certificates *service.CertificateService) *CertificateController {
	return &CertificateController{Certificates: certificates}
}

// @Summary 领取课程证书
// @Description 课程 100% 完成后向权威领取证书并归档，重复领取幂等
// @Tags 证书模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/player/courses/{courseId}/certificate/claim [post]
func (c *CertificateController) Claim(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}

	cert, err := c.Certificates.Claim(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrCertificateLocked):
			util.Forbidden(ctx)
		case errors.Is(err, util.ErrAuthorityUnavailable):
			util.BadGateway(ctx, "Certificate authority unavailable, please retry")
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, cert)
}

// @Summary 下载课程证书
// @Description 流式回放已归档的证书文件
// @Tags 证书模块
// @Produce octet-stream
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {file} binary
// @Router /api/player/courses/{courseId}/certificate/download [get]
func (c *CertificateController) Download(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := parseCourseID(ctx)
	if !ok {
		return
	}

	reader, cert, err := c.Certificates.Download(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		if errors.Is(err, util.ErrCertificateNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	defer reader.Close()

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=certificate_%d.pdf", courseID))
	ctx.Header("Content-Type", cert.ContentType)
	ctx.Status(200)
	if _, err := io.Copy(ctx.Writer, reader); err != nil {
		// 响应头已写出，只能记日志
		logger.Log.Error("certificate stream interrupted", zap.Error(err))
	}
}
