package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lesson_player_backend/internal/config"
	"lesson_player_backend/internal/model"
)

// CourseStructure GET 课程结构的完整下发：课程树 + 调用者的报名 + 逐项进度。
type CourseStructure struct {
	Course     model.Course         `json:"course"`
	Enrollment EnrollmentState      `json:"enrollment"`
	Progress   []ItemProgressRecord `json:"itemProgress"`
}

type EnrollmentState struct {
	ID                 uint   `json:"id"`
	CourseID           uint   `json:"courseId"`
	ProgressPercentage int    `json:"progressPercentage"`
	Status             string `json:"status"`
}

type ItemProgressRecord struct {
	ItemID      uint       `json:"itemId"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type AccessEvent struct {
	CourseID uint `json:"course_id"`
	ItemID   uint `json:"item_id"`
}

// Heartbeat 携带自上次成功冲账以来的真实秒数增量，Sequence 供服务端去重。
type Heartbeat struct {
	CourseID     uint   `json:"course_id"`
	SecondsDelta int64  `json:"seconds_delta"`
	Sequence     uint64 `json:"seq"`
}

type CertificateArtifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Client 远端权威的访问契约，服务层依赖此接口便于替换与测试。
type Client interface {
	GetCourseStructure(ctx context.Context, userID, courseID uint) (*CourseStructure, error)
	PostAccessEvent(ctx context.Context, userID uint, ev AccessEvent) error
	PostHeartbeat(ctx context.Context, userID uint, hb Heartbeat) error
	PostItemComplete(ctx context.Context, userID, itemID uint) (*EnrollmentState, error)
	PostCertificateClaim(ctx context.Context, userID, courseID uint) (*CertificateArtifact, error)
}

type HTTPClient struct {
	config config.AuthorityConfig
	client *http.Client
}

func NewHTTPClient(cfg config.AuthorityConfig) *HTTPClient {
	return &HTTPClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) GetCourseStructure(ctx context.Context, userID, courseID uint) (*CourseStructure, error) {
	url := fmt.Sprintf("%s/api/courses/%d/structure", c.config.BaseURL, courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority returned status %d for course structure", resp.StatusCode)
	}

	var structure CourseStructure
	if err := json.NewDecoder(resp.Body).Decode(&structure); err != nil {
		return nil, err
	}
	return &structure, nil
}

func (c *HTTPClient) PostAccessEvent(ctx context.Context, userID uint, ev AccessEvent) error {
	return c.postJSON(ctx, userID, "/api/events/access", ev, nil)
}

func (c *HTTPClient) PostHeartbeat(ctx context.Context, userID uint, hb Heartbeat) error {
	return c.postJSON(ctx, userID, "/api/events/time-heartbeat", hb, nil)
}

func (c *HTTPClient) PostItemComplete(ctx context.Context, userID, itemID uint) (*EnrollmentState, error) {
	var out struct {
		Enrollment EnrollmentState `json:"enrollment"`
	}
	path := fmt.Sprintf("/api/items/%d/complete", itemID)
	if err := c.postJSON(ctx, userID, path, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out.Enrollment, nil
}

func (c *HTTPClient) PostCertificateClaim(ctx context.Context, userID, courseID uint) (*CertificateArtifact, error) {
	url := fmt.Sprintf("%s/api/courses/%d/certificate/claim", c.config.BaseURL, courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority returned status %d for certificate claim", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	return &CertificateArtifact{
		FileName:    fmt.Sprintf("certificate_%d_%d.pdf", userID, courseID),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, userID uint, path string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	c.setHeaders(req, userID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("authority returned status %d for %s", resp.StatusCode, path)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request, userID uint) {
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	// 权威侧以此识别代答的学员
	req.Header.Set("X-Learner-ID", fmt.Sprintf("%d", userID))
}
