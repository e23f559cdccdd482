package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Result is the object store's answer after a successful upload. The URL is
// the only field the message payload needs; the rest is kept for display
// and debugging.
type Result struct {
	URL          string `json:"url"`
	PublicID     string `json:"publicId"`
	ResourceType string `json:"resourceType"`
	Format       string `json:"format"`
	Bytes        int64  `json:"bytes"`
}

// ProgressFunc receives the number of bytes sent so far and the total size.
type ProgressFunc func(sent, total int64)

// Uploader sends files to the object-storage upload endpoint using an
// unsigned preset. Uploads are large and slow relative to API calls, so the
// uploader carries its own generous timeout instead of the API client's.
type Uploader struct {
	endpoint string
	preset   string
	http     *http.Client
}

func New(endpoint, preset string) *Uploader {
	return &Uploader{
		endpoint: endpoint,
		preset:   preset,
		http:     &http.Client{Timeout: 5 * time.Minute},
	}
}

type countingReader struct {
	r        io.Reader
	total    int64
	sent     int64
	progress ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 && cr.progress != nil {
		cr.sent += int64(n)
		cr.progress(cr.sent, cr.total)
	}
	return n, err
}

// UploadFile streams the file at path to the object store, reporting
// progress as the multipart body is consumed by the transport.
func (u *Uploader) UploadFile(ctx context.Context, path string, progress ProgressFunc) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment %s is a directory", path)
	}

	// The preset field has to be written before the file part; the upload
	// service rejects bodies where it trails the payload.
	var head bytes.Buffer
	mw := multipart.NewWriter(&head)
	if err := mw.WriteField("upload_preset", u.preset); err != nil {
		return nil, err
	}
	if _, err := mw.CreateFormFile("file", filepath.Base(path)); err != nil {
		return nil, err
	}

	// Assemble head + file + closing boundary as one stream so the file is
	// never buffered in memory.
	var tail bytes.Buffer
	tailWriter := multipart.NewWriter(&tail)
	if err := tailWriter.SetBoundary(mw.Boundary()); err != nil {
		return nil, err
	}
	if err := tailWriter.Close(); err != nil {
		return nil, err
	}

	total := int64(head.Len()) + info.Size() + int64(tail.Len())
	body := &countingReader{
		r:        io.MultiReader(&head, f, &tail),
		total:    total,
		progress: progress,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = total

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("upload failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if res.URL == "" {
		return nil, fmt.Errorf("upload response missing url")
	}
	if res.Bytes == 0 {
		res.Bytes = info.Size()
	}
	return &res, nil
}
