package cloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	DefaultDriveUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
	DefaultDriveFilesURL  = "https://www.googleapis.com/drive/v3/files"
)

type DriveConfig struct {
	// AccessToken is issued by the calling layer, which owns the OAuth flow.
	AccessToken string
	FolderID    string

	UploadURL string
	FilesURL  string
}

// Drive stores containers in Google Drive. The handle is the Drive file id.
type Drive struct {
	client    *http.Client
	folderID  string
	uploadURL string
	filesURL  string
}

func NewDrive(ctx context.Context, cfg DriveConfig) (*Drive, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("cloud: drive access token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	d := &Drive{
		client:    oauth2.NewClient(ctx, ts),
		folderID:  strings.TrimSpace(cfg.FolderID),
		uploadURL: strings.TrimRight(cfg.UploadURL, "/"),
		filesURL:  strings.TrimRight(cfg.FilesURL, "/"),
	}
	if d.uploadURL == "" {
		d.uploadURL = DefaultDriveUploadURL
	}
	if d.filesURL == "" {
		d.filesURL = DefaultDriveFilesURL
	}
	return d, nil
}

type driveFile struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (d *Drive) Upload(ctx context.Context, data []byte, userID, filename string) (string, error) {
	if _, err := objectKey(userID, filename); err != nil {
		return "", err
	}
	meta := map[string]any{
		"name":     filename,
		"mimeType": ContentType,
		"appProperties": map[string]string{
			"prepflowUser": userID,
		},
	}
	if d.folderID != "" {
		meta["parents"] = []string{d.folderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return "", err
	}
	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {ContentType}})
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.uploadURL+"?uploadType=multipart&fields=id,name", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("cloud: drive upload: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var f driveFile
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return "", fmt.Errorf("cloud: drive upload response: %w", err)
	}
	if f.ID == "" {
		return "", errors.New("cloud: drive upload returned no file id")
	}
	return f.ID, nil
}

func (d *Drive) Download(ctx context.Context, handle string) ([]byte, error) {
	id := strings.TrimSpace(handle)
	if id == "" {
		return nil, errors.New("cloud: drive file id is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.filesURL+"/"+url.PathEscape(id)+"?alt=media", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("cloud: drive download: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}
