package pdfconvert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/core"
)

const (
	DefaultBaseURL = "https://api.cloudconvert.com/v2"
	ProviderName   = "cloudconvert"

	importTask  = "import-pdf"
	convertTask = "convert-to-png"
	exportTask  = "export-result"
)

// CloudConvert renders PDFs through a CloudConvert job:
// import/upload -> convert (page 1 to png) -> export/url.
type CloudConvert struct {
	api      *resty.Client
	files    *resty.Client
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

type Option func(*CloudConvert)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *CloudConvert) { c.api.SetBaseURL(u) }
}

// WithPollInterval sets how often job status is checked.
func WithPollInterval(d time.Duration) Option {
	return func(c *CloudConvert) { c.interval = d }
}

func NewCloudConvert(apiKey string, timeout time.Duration, logger *zap.Logger, opts ...Option) (*CloudConvert, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("CLOUDCONVERT_API_KEY not set")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &CloudConvert{
		api: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		files:    resty.New(),
		timeout:  timeout,
		interval: 1200 * time.Millisecond,
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *CloudConvert) Provider() string { return ProviderName }

type jobTask struct {
	Name    string          `json:"name"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type job struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Tasks  []jobTask `json:"tasks"`
}

type jobEnvelope struct {
	Data job `json:"data"`
}

func (j *job) task(name string) *jobTask {
	for i := range j.Tasks {
		if j.Tasks[i].Name == name {
			return &j.Tasks[i]
		}
	}
	return nil
}

type uploadForm struct {
	Form struct {
		URL        string            `json:"url"`
		Parameters map[string]string `json:"parameters"`
	} `json:"form"`
}

type exportFiles struct {
	Files []struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
	} `json:"files"`
}

// FirstPageToPNG converts page 1 of pdf. The whole exchange is bounded by
// the configured timeout.
func (c *CloudConvert) FirstPageToPNG(ctx context.Context, filename string, pdf []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, err := c.createJob(ctx)
	if err != nil {
		return nil, err
	}

	form, err := c.importForm(ctx, created)
	if err != nil {
		return nil, err
	}
	if err := c.upload(ctx, form, filename, pdf); err != nil {
		return nil, err
	}

	fileURL, err := c.wait(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	resp, err := c.files.R().SetContext(ctx).Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("cloudconvert download: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloudconvert download failed (%d)", resp.StatusCode())
	}
	return resp.Body(), nil
}

// apiRequest decodes the body as JSON whatever Content-Type the API sends.
func (c *CloudConvert) apiRequest(ctx context.Context) *resty.Request {
	return c.api.R().SetContext(ctx).ForceContentType("application/json")
}

func (c *CloudConvert) createJob(ctx context.Context) (*job, error) {
	body := map[string]any{
		"tasks": map[string]any{
			importTask: map[string]any{"operation": "import/upload"},
			convertTask: map[string]any{
				"operation":     "convert",
				"input":         importTask,
				"input_format":  "pdf",
				"output_format": "png",
				"pages":         "1",
			},
			exportTask: map[string]any{"operation": "export/url", "input": convertTask},
		},
	}

	var out jobEnvelope
	resp, err := c.apiRequest(ctx).SetBody(body).SetResult(&out).Post("/jobs")
	if err != nil {
		return nil, fmt.Errorf("cloudconvert create job: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloudconvert create job (%d): %s", resp.StatusCode(), resp.String())
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("cloudconvert: missing job id")
	}
	return &out.Data, nil
}

func (c *CloudConvert) getJob(ctx context.Context, id string) (*job, error) {
	var out jobEnvelope
	resp, err := c.apiRequest(ctx).SetResult(&out).SetPathParam("id", id).Get("/jobs/{id}")
	if err != nil {
		return nil, fmt.Errorf("cloudconvert get job: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cloudconvert get job (%d): %s", resp.StatusCode(), resp.String())
	}
	return &out.Data, nil
}

// importForm reads the signed upload form, refetching the job once when the
// create response did not carry it.
func (c *CloudConvert) importForm(ctx context.Context, j *job) (*uploadForm, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if t := j.task(importTask); t != nil && len(t.Result) > 0 {
			var f uploadForm
			if err := json.Unmarshal(t.Result, &f); err == nil && f.Form.URL != "" {
				return &f, nil
			}
		}
		next, err := c.getJob(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		j = next
	}
	return nil, fmt.Errorf("cloudconvert: missing upload form")
}

func (c *CloudConvert) upload(ctx context.Context, f *uploadForm, filename string, pdf []byte) error {
	if filename == "" {
		filename = "document.pdf"
	}
	resp, err := c.files.R().
		SetContext(ctx).
		SetMultipartFormData(f.Form.Parameters).
		SetFileReader("file", filename, bytes.NewReader(pdf)).
		Post(f.Form.URL)
	if err != nil {
		return fmt.Errorf("cloudconvert upload: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloudconvert upload failed (%d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *CloudConvert) wait(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		j, err := c.getJob(ctx, id)
		if err != nil {
			return "", err
		}
		switch j.Status {
		case "error":
			msg := "job failed"
			for _, t := range j.Tasks {
				if t.Status == "error" && t.Message != "" {
					msg = t.Name + ": " + t.Message
					break
				}
			}
			return "", fmt.Errorf("cloudconvert: %s", msg)
		case "finished":
			t := j.task(exportTask)
			if t == nil {
				return "", fmt.Errorf("cloudconvert: missing export task")
			}
			var files exportFiles
			if err := json.Unmarshal(t.Result, &files); err != nil || len(files.Files) == 0 || files.Files[0].URL == "" {
				return "", fmt.Errorf("cloudconvert: missing export file url")
			}
			return files.Files[0].URL, nil
		}

		c.logger.Debug("waiting for cloudconvert job", zap.String("job_id", id), zap.String("status", j.Status))
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("cloudconvert timed out waiting for job: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ core.PDFConverter = (*CloudConvert)(nil)
