package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wpsave/wpsave/internal/config"
	"github.com/wpsave/wpsave/internal/logging"
	"github.com/wpsave/wpsave/internal/types"
	"github.com/wpsave/wpsave/pkg/utils"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Client is a thin Google Drive client over the REST API. It resolves the
// destination folder lazily, uploads artifacts with a multipart request, and
// supports listing and deleting for retention. All calls go through the
// OAuth-authenticated HTTP client supplied by the credential store.
type Client struct {
	httpClient  *http.Client
	logger      *logging.Logger
	folderPath  string
	shareEmails []string
	shareRole   types.ShareRole
	makePublic  bool

	baseURL   string
	uploadURL string

	mu       sync.Mutex
	folderID string
}

// NewClient creates a Drive client for the configured destination folder.
func NewClient(cfg *config.Config, httpClient *http.Client, logger *logging.Logger) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		folderPath:  cfg.DriveFolder,
		shareEmails: cfg.ShareEmails,
		shareRole:   cfg.ShareRole,
		makePublic:  cfg.MakePublic,
		baseURL:     "https://www.googleapis.com/drive/v3",
		uploadURL:   "https://www.googleapis.com/upload/drive/v3",
	}
}

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedTime string `json:"createdTime,omitempty"`
	Size        string `json:"size,omitempty"`
	WebViewLink string `json:"webViewLink,omitempty"`
}

type driveFileList struct {
	Files         []driveFile `json:"files"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return fmt.Errorf("drive API: %s (HTTP %d)", parsed.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("drive API: HTTP %d", resp.StatusCode)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// escapeQuery escapes single quotes for embedding in a Drive search query.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, `'`, `\'`)
}

// FolderID resolves the destination folder, creating missing path segments,
// and caches the result for the rest of the run. Nested paths like
// "Backups/Sites" are resolved segment by segment.
func (c *Client) FolderID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.folderID != "" {
		return c.folderID, nil
	}

	parent := ""
	for _, segment := range strings.Split(c.folderPath, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		id, err := c.resolveSegment(ctx, parent, segment)
		if err != nil {
			return "", err
		}
		parent = id
	}
	if parent == "" {
		return "", fmt.Errorf("destination folder path %q is empty", c.folderPath)
	}
	c.folderID = parent
	return parent, nil
}

func (c *Client) resolveSegment(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	listURL := c.baseURL + "/files?" + url.Values{
		"q":      {query},
		"fields": {"files(id, name)"},
	}.Encode()

	var list driveFileList
	if err := c.getJSON(ctx, listURL, &list); err != nil {
		return "", fmt.Errorf("search folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		c.logger.Debug("Backup folder found: %q (%s)", name, list.Files[0].ID)
		return list.Files[0].ID, nil
	}

	c.logger.Info("Creating backup folder: %q", name)
	metadata := map[string]interface{}{
		"name":     name,
		"mimeType": folderMimeType,
	}
	if parentID != "" {
		metadata["parents"] = []string{parentID}
	}
	var created driveFile
	if err := c.postJSON(ctx, c.baseURL+"/files?fields=id", metadata, &created); err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	return created.ID, nil
}

// Upload sends the artifact into the destination folder with a single
// multipart request and returns the remote file ID. Sharing is applied to
// the folder after the first successful upload; a sharing failure is logged
// but does not fail the upload.
func (c *Client) Upload(ctx context.Context, artifact *types.ArtifactInfo) (string, error) {
	folderID, err := c.FolderID(ctx)
	if err != nil {
		return "", err
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	// The multipart body is streamed through a pipe so the artifact is never
	// buffered in memory. The writer goroutine closes the pipe with whatever
	// error it hit, which surfaces as the request error on this side.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadBody(writer, artifact.Name, folderID, file))
	}()

	c.logger.Info("Uploading %s (%s) to Drive folder %q",
		artifact.Name, utils.FormatBytes(artifact.Size), c.folderPath)

	uploadURL := c.uploadURL + "/files?uploadType=multipart&fields=id,name,webViewLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	finish := logging.DebugStart(c.logger, "drive upload", "name=%s", artifact.Name)
	resp, err := c.httpClient.Do(req)
	finish(err)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", c.apiError(resp)
	}

	var uploaded driveFile
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}

	c.logger.Success("Backup uploaded to Google Drive: %s", uploaded.Name)
	if uploaded.WebViewLink != "" {
		c.logger.Debug("Remote link: %s", uploaded.WebViewLink)
	}

	if err := c.ShareFolder(ctx); err != nil {
		c.logger.Warning("Sharing configuration failed: %v", err)
	}
	return uploaded.ID, nil
}

// writeUploadBody emits the two multipart/related parts Drive expects: the
// JSON metadata first, then the artifact content copied straight from disk.
func writeUploadBody(writer *multipart.Writer, name, folderID string, file io.Reader) error {
	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return err
	}
	metadata := map[string]interface{}{
		"name":    name,
		"parents": []string{folderID},
	}
	if err := json.NewEncoder(metaPart).Encode(metadata); err != nil {
		return err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", "application/gzip")
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return err
	}
	if _, err := io.Copy(filePart, file); err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	return writer.Close()
}

// ShareFolder grants the configured access on the destination folder: one
// user permission per share email, plus an anyone/reader grant when public
// visibility is enabled. Individual grant failures are logged and the rest
// still applied.
func (c *Client) ShareFolder(ctx context.Context) error {
	if len(c.shareEmails) == 0 && !c.makePublic {
		return nil
	}

	folderID, err := c.FolderID(ctx)
	if err != nil {
		return err
	}
	permissionsURL := fmt.Sprintf("%s/files/%s/permissions?sendNotificationEmail=false", c.baseURL, folderID)

	failures := 0
	for _, email := range c.shareEmails {
		permission := map[string]string{
			"type":         "user",
			"role":         string(c.shareRole),
			"emailAddress": email,
		}
		if err := c.postJSON(ctx, permissionsURL, permission, nil); err != nil {
			c.logger.Warning("Failed to share with %s: %v", utils.MaskSensitive(email), err)
			failures++
			continue
		}
		c.logger.Info("Shared with %s (role: %s)", utils.MaskSensitive(email), c.shareRole)
	}

	if c.makePublic {
		// Public access is always read-only
		permission := map[string]string{
			"type": "anyone",
			"role": "reader",
		}
		if err := c.postJSON(ctx, permissionsURL, permission, nil); err != nil {
			c.logger.Warning("Failed to make folder public: %v", err)
			failures++
		} else {
			c.logger.Info("Folder is now public (read-only)")
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d permission grants failed", failures)
	}
	return nil
}

// ListArtifacts enumerates the files in the destination folder.
func (c *Client) ListArtifacts(ctx context.Context) ([]types.RemoteArtifact, error) {
	folderID, err := c.FolderID(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
	var artifacts []types.RemoteArtifact
	pageToken := ""
	for {
		values := url.Values{
			"q":      {query},
			"fields": {"nextPageToken, files(id, name, createdTime, size)"},
		}
		if pageToken != "" {
			values.Set("pageToken", pageToken)
		}

		var list driveFileList
		if err := c.getJSON(ctx, c.baseURL+"/files?"+values.Encode(), &list); err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}

		for _, f := range list.Files {
			artifact := types.RemoteArtifact{ID: f.ID, Name: f.Name}
			if f.CreatedTime != "" {
				if created, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
					artifact.Created = created
				}
			}
			if f.Size != "" {
				if size, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
					artifact.Size = size
				}
			}
			artifacts = append(artifacts, artifact)
		}

		if list.NextPageToken == "" {
			return artifacts, nil
		}
		pageToken = list.NextPageToken
	}
}

// DeleteArtifact removes a remote file. A file already gone is not an error.
func (c *Client) DeleteArtifact(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	return nil
}
