// Package canvas reads assignment submissions from the Canvas LMS REST API
// and downloads their attachments.
package canvas

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/heartmarshall/autograder/internal/config"
	"github.com/heartmarshall/autograder/internal/domain"
)

const (
	defaultAssignmentName = "Assignment"
	defaultFilename       = "submission.bin"
)

// Client talks to one course assignment.
type Client struct {
	baseURL      string
	token        string
	courseID     int64
	assignmentID int64
	httpClient   *http.Client
	log          *slog.Logger
}

// NewClient creates a Client for the configured course and assignment.
func NewClient(cfg config.CanvasConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.APIToken,
		courseID:     cfg.CourseID,
		assignmentID: cfg.AssignmentID,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		log:          logger.With("adapter", "canvas"),
	}
}

func (c *Client) assignmentPath() string {
	return fmt.Sprintf("%s/api/v1/courses/%d/assignments/%d", c.baseURL, c.courseID, c.assignmentID)
}

// AssignmentName returns the assignment title, or "Assignment" when Canvas
// does not send one.
func (c *Client) AssignmentName(ctx context.Context) (string, error) {
	body, _, err := c.getJSON(ctx, c.assignmentPath())
	if err != nil {
		return "", err
	}
	name := gjson.GetBytes(body, "name")
	if !name.Exists() || name.Type == gjson.Null {
		return defaultAssignmentName, nil
	}
	return name.String(), nil
}

// ListSubmissions returns every submission of the assignment, following
// Link rel="next" pagination.
func (c *Client) ListSubmissions(ctx context.Context) ([]domain.Submission, error) {
	q := url.Values{}
	q.Add("include[]", "user")
	q.Add("include[]", "attachments")
	q.Set("per_page", "100")
	next := c.assignmentPath() + "/submissions?" + q.Encode()

	var out []domain.Submission
	for page := 1; next != ""; page++ {
		body, header, err := c.getJSON(ctx, next)
		if err != nil {
			return nil, err
		}

		parsed := gjson.ParseBytes(body)
		if !parsed.IsArray() {
			return nil, domain.NewCollaboratorError("canvas list submissions",
				fmt.Errorf("page %d is not a JSON array", page))
		}
		subs := mapSubmissions(parsed)
		out = append(out, subs...)

		c.log.DebugContext(ctx, "canvas submissions page",
			slog.Int("page", page),
			slog.Int("count", len(subs)),
		)
		next = nextLink(header.Get("Link"))
	}
	return out, nil
}

// Download saves an attachment into destDir and returns the local path.
// The file keeps only the base name of the attachment's filename.
func (c *Client) Download(ctx context.Context, att domain.Attachment, destDir string) (string, error) {
	if att.URL == "" {
		return "", domain.NewCollaboratorError("canvas download", fmt.Errorf("attachment %q has no url", att.Filename))
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("canvas: create %s: %w", destDir, err)
	}

	resp, err := c.get(ctx, att.URL)
	if err != nil {
		return "", domain.NewCollaboratorError("canvas download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewCollaboratorError("canvas download", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	path := filepath.Join(destDir, safeFilename(att.Filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("canvas: create %s: %w", path, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", domain.NewCollaboratorError("canvas download", err)
	}

	c.log.DebugContext(ctx, "canvas attachment saved",
		slog.String("path", path),
		slog.Int64("bytes", n),
	)
	return path, nil
}

func safeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." || base == "" {
		return defaultFilename
	}
	return base
}

// getJSON fetches an API URL and returns its body and headers.
// Rejected credentials are configuration errors.
func (c *Client) getJSON(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, nil, domain.NewCollaboratorError("canvas get", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, fmt.Errorf("%w: canvas rejected api token (status %d)", domain.ErrConfig, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, nil, domain.NewCollaboratorError("canvas get", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, domain.NewCollaboratorError("canvas read body", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, nil, domain.NewCollaboratorError("canvas decode json", fmt.Errorf("invalid JSON from %s", redact(rawURL)))
	}
	return body, resp.Header, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.doWithRetry(ctx, req)
}

// doWithRetry executes the request with a single retry on 5xx or network errors.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)

	shouldRetry := err != nil || (resp != nil && resp.StatusCode >= 500)
	if !shouldRetry || ctx.Err() != nil {
		return resp, err
	}

	reason := "network error"
	if err == nil && resp != nil {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	c.log.WarnContext(ctx, "canvas retry", slog.String("url", redact(req.URL.String())), slog.String("reason", reason))

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	return c.httpClient.Do(req)
}

// redact drops the query string, which may carry download verifiers.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
