package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"lesson_player_backend/internal/authority"
	"lesson_player_backend/internal/model"
	"lesson_player_backend/internal/util"
	"lesson_player_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CertificateStore 已领取证书的登记仓库
type CertificateStore interface {
	GetCertificate(userID, courseID uint) (*model.Certificate, error)
	CreateCertificate(c *model.Certificate) error
}

// CertificateService 证书领取与下载。签发本身归外部协作方，
// 这里只做 100% 完成度的闸口、向权威领取工件并归档到对象存储。
type CertificateService struct {
	client  authority.Client
	storage *StorageService
	certs   CertificateStore
	store   ProgressStore
}

func NewCertificateService(client authority.Client, storage *StorageService, certs CertificateStore, store ProgressStore) *CertificateService {
	return &CertificateService{
		client:  client,
		storage: storage,
		certs:   certs,
		store:   store,
	}
}

// Claim 领取证书。重复领取幂等返回已归档的登记。
func (s *CertificateService) Claim(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	existing, err := s.certs.GetCertificate(userID, courseID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	enrollment, err := s.store.GetEnrollment(userID, courseID)
	if err != nil {
		return nil, err
	}
	if enrollment.ProgressPercentage < 100 {
		return nil, util.ErrCertificateLocked
	}

	artifact, err := s.client.PostCertificateClaim(ctx, userID, courseID)
	if err != nil {
		logger.Log.Error("certificate claim against authority failed",
			zap.Uint("userId", userID),
			zap.Uint("courseId", courseID),
			zap.Error(err))
		return nil, util.ErrAuthorityUnavailable
	}

	objectKey := fmt.Sprintf("certificates/%d/%d/%s", userID, courseID, artifact.FileName)
	if err := s.storage.UploadBytes(ctx, objectKey, artifact.Data, artifact.ContentType); err != nil {
		return nil, err
	}

	cert := &model.Certificate{
		UserID:      userID,
		CourseID:    courseID,
		ObjectKey:   objectKey,
		ContentType: artifact.ContentType,
	}
	if err := s.certs.CreateCertificate(cert); err != nil {
		return nil, err
	}

	logger.Log.Info("certificate archived",
		zap.Uint("userId", userID),
		zap.Uint("courseId", courseID),
		zap.String("objectKey", objectKey))
	return cert, nil
}

// Download 回放已归档的证书工件
func (s *CertificateService) Download(ctx context.Context, userID, courseID uint) (io.ReadCloser, *model.Certificate, error) {
	cert, err := s.certs.GetCertificate(userID, courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, util.ErrCertificateNotFound
		}
		return nil, nil, err
	}

	reader, err := s.storage.Download(ctx, cert.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	return reader, cert, nil
}
