package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/lifti/internal/telemetry/tracing"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// appDataSpace is the per-user private file area, invisible to
	// other applications.
	appDataSpace = "appDataFolder"

	jsonMimeType = "application/json"

	DefaultCallTimeout = 10 * time.Second
)

var (
	// ErrAuthExpired marks an expired or invalid bearer credential, so
	// callers can trigger re-authentication instead of a generic error.
	ErrAuthExpired = errors.New("drive auth expired")

	// ErrFileNotFound marks a stale file id or an absent file name.
	ErrFileNotFound = errors.New("drive file not found")
)

// FileInfo describes a single remote file, as returned by ListFiles.
type FileInfo struct {
	ID           string
	Name         string
	ModifiedTime string
	Size         int64
}

// Client wraps the Google Drive files API with JSON file level CRUD
// against the app data folder. All calls are bounded by a watchdog
// timeout, writes are allowed to finish even after the caller context
// gets cancelled.
type Client struct {
	service     *drive.Service
	callTimeout time.Duration
}

type NewClientParams struct {
	// AccessToken is the bearer credential, provided explicitly by the
	// caller on every client construction. The client never acquires
	// or refreshes tokens itself.
	AccessToken string
	CallTimeout time.Duration

	// ClientOptions are appended after the token source, used to
	// supply a custom HTTP client, or a fake endpoint in tests. When
	// a custom HTTP client carries its own credentials, AccessToken
	// can stay empty.
	ClientOptions []option.ClientOption
}

func NewClient(ctx context.Context, params NewClientParams) (*Client, error) {
	if params.AccessToken == "" && len(params.ClientOptions) == 0 {
		return nil, errors.New("access token empty")
	}
	if params.CallTimeout <= 0 {
		params.CallTimeout = DefaultCallTimeout
	}

	var opts []option.ClientOption
	if params.AccessToken != "" {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: params.AccessToken,
		})))
	}
	opts = append(opts, params.ClientOptions...)

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Client{
		service:     service,
		callTimeout: params.CallTimeout,
	}, nil
}

// FindFileIDByName returns the id of the first file with exactly the
// given name, or ErrFileNotFound. Duplicate names are a tolerated
// anomaly, the first result wins.
func (c *Client) FindFileIDByName(ctx context.Context, name string) (fileID string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveClient.findFileIdByName")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	query := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))
	listRes, err := c.service.Files.List().
		Context(ctx).
		Spaces(appDataSpace).
		Q(query).
		Fields("files(id, name)").
		PageSize(10).
		Do()
	if err != nil {
		return "", translateErr(err)
	}

	if len(listRes.Files) == 0 {
		return "", ErrFileNotFound
	}

	return listRes.Files[0].Id, nil
}

// ReadJSON downloads the file content and unmarshals it into dest.
func (c *Client) ReadJSON(ctx context.Context, fileID string, dest any) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveClient.readJson")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	res, err := c.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return translateErr(err)
	}
	defer res.Body.Close()

	content, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read file content: %w", err)
	}

	if err := json.Unmarshal(content, dest); err != nil {
		return fmt.Errorf("unmarshal file content: %w", err)
	}

	return nil
}

// CreateJSON creates a new file in the app data folder and returns its
// id. It always creates, even when a file with the same name already
// exists, dedup is the caller's job via FindFileIDByName.
func (c *Client) CreateJSON(ctx context.Context, name string, content any) (fileID string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveClient.createJson")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	// an in-flight write runs to completion even if the caller goes
	// away, a half written aggregate is worse than a late one
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()

	contentJson, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal file content: %w", err)
	}

	fileMeta := &drive.File{
		Name:     name,
		MimeType: jsonMimeType,
		Parents:  []string{appDataSpace},
	}

	createRes, err := c.service.Files.Create(fileMeta).
		Context(ctx).
		Media(bytes.NewReader(contentJson), googleapi.ContentType(jsonMimeType)).
		Fields("id").
		Do()
	if err != nil {
		return "", translateErr(err)
	}

	return createRes.Id, nil
}

// UpdateJSON replaces the full file content, never a partial patch.
func (c *Client) UpdateJSON(ctx context.Context, fileID string, content any) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveClient.updateJson")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()

	contentJson, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal file content: %w", err)
	}

	_, err = c.service.Files.Update(fileID, &drive.File{}).
		Context(ctx).
		Media(bytes.NewReader(contentJson), googleapi.ContentType(jsonMimeType)).
		Do()
	if err != nil {
		return translateErr(err)
	}

	return nil
}

// UpsertJSONByName finds a file by exact name and updates it, or
// creates a new one when absent. Returns the file id either way.
func (c *Client) UpsertJSONByName(ctx context.Context, name string, content any) (string, error) {
	fileID, err := c.FindFileIDByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return c.CreateJSON(ctx, name, content)
		}
		return "", err
	}

	if err := c.UpdateJSON(ctx, fileID, content); err != nil {
		return "", err
	}
	return fileID, nil
}

// DeleteFile removes the file. Deleting an already deleted file is
// treated as success.
func (c *Client) DeleteFile(ctx context.Context, fileID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveClient.deleteFile")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()

	if err := c.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		err = translateErr(err)
		if errors.Is(err, ErrFileNotFound) {
			return nil
		}
		return err
	}

	return nil
}

// ListFiles returns all JSON files whose name contains nameContains,
// following pagination internally until exhausted.
func (c *Client) ListFiles(ctx context.Context, nameContains string) (files []FileInfo, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "driveClient.listFiles")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	query := fmt.Sprintf(
		"name contains '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(nameContains), jsonMimeType,
	)

	pageToken := ""
	for {
		listCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		listRes, err := c.service.Files.List().
			Context(listCtx).
			Spaces(appDataSpace).
			Q(query).
			Fields("nextPageToken, files(id, name, modifiedTime, size)").
			PageSize(100).
			PageToken(pageToken).
			Do()
		cancel()
		if err != nil {
			return nil, translateErr(err)
		}

		for _, f := range listRes.Files {
			files = append(files, FileInfo{
				ID:           f.Id,
				Name:         f.Name,
				ModifiedTime: f.ModifiedTime,
				Size:         f.Size,
			})
		}

		if listRes.NextPageToken == "" {
			return files, nil
		}
		pageToken = listRes.NextPageToken
	}
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func translateErr(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthExpired, gErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrFileNotFound, gErr.Message)
		}
	}
	return err
}
