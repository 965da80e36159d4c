package cloud

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestLocalDir_UploadDownload(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)

	handle, err := l.Upload(ctx, []byte("container"), "chef1", "b1.pfbak")
	require.NoError(t, err)
	require.Equal(t, "backups/chef1/b1.pfbak", handle)

	got, err := l.Download(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, []byte("container"), got)

	_, err = l.Download(ctx, "backups/chef1/missing.pfbak")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalDir_RejectsEscapes(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)

	for _, h := range []string{"../etc/passwd", "/etc/passwd", "..", ""} {
		_, err := l.Download(ctx, h)
		require.Error(t, err, h)
	}

	handle, err := l.Upload(ctx, []byte("x"), "../chef1", "a/b.pfbak")
	require.NoError(t, err)
	require.Equal(t, "backups/.._chef1/a_b.pfbak", handle)

	_, err = l.Upload(ctx, []byte("x"), "", "b.pfbak")
	require.Error(t, err)
}

func TestDrive_UploadDownload(t *testing.T) {
	ctx := context.Background()
	stored := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			require.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
			mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			require.NoError(t, err)
			require.Equal(t, "multipart/related", mt)

			mr := multipart.NewReader(r.Body, params["boundary"])
			metaPart, err := mr.NextPart()
			require.NoError(t, err)
			var meta struct {
				Name    string   `json:"name"`
				Parents []string `json:"parents"`
			}
			require.NoError(t, json.NewDecoder(metaPart).Decode(&meta))
			require.Equal(t, "b1.pfbak", meta.Name)
			require.Equal(t, []string{"folder-9"}, meta.Parents)

			dataPart, err := mr.NextPart()
			require.NoError(t, err)
			data, err := io.ReadAll(dataPart)
			require.NoError(t, err)
			stored["file-1"] = data

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"file-1","name":"b1.pfbak"}`))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
			require.Equal(t, "media", r.URL.Query().Get("alt"))
			data, ok := stored[strings.TrimPrefix(r.URL.Path, "/files/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d, err := NewDrive(ctx, DriveConfig{
		AccessToken: "tok",
		FolderID:    "folder-9",
		UploadURL:   srv.URL + "/upload",
		FilesURL:    srv.URL + "/files",
	})
	require.NoError(t, err)

	handle, err := d.Upload(ctx, []byte("sealed"), "chef1", "b1.pfbak")
	require.NoError(t, err)
	require.Equal(t, "file-1", handle)

	got, err := d.Download(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, []byte("sealed"), got)

	_, err = d.Download(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDrive_UploadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	d, err := NewDrive(context.Background(), DriveConfig{AccessToken: "tok", UploadURL: srv.URL})
	require.NoError(t, err)
	_, err = d.Upload(context.Background(), []byte("x"), "chef1", "b.pfbak")
	require.ErrorContains(t, err, "quota exceeded")
}

func TestNewDrive_RequiresToken(t *testing.T) {
	_, err := NewDrive(context.Background(), DriveConfig{})
	require.Error(t, err)
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(S3Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}
