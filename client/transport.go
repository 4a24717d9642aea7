package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// ProgressFunc receives the number of payload bytes sent so far
type ProgressFunc func(sent, total int64)

// Transport moves a candidate to the ingestion endpoint and returns the ID
// the server assigned to it
type Transport interface {
	Transfer(ctx context.Context, c Candidate, progress ProgressFunc) (string, error)
}

// ClipGenerator is the hand off target once a video is stored
type ClipGenerator interface {
	Generate(ctx context.Context, videoID string) error
}

type apiResponse struct {
	VideoID string `json:"videoId"`
	Error   string `json:"error"`
}

// HTTPTransport streams the candidate as a multipart form with a single
// "file" field. The payload is never buffered as a whole
type HTTPTransport struct {
	BaseURL        string
	Client         *http.Client
	TurnstileToken string
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// Deadlines come from the context, a client timeout would cut large
		// uploads short
		Client: &http.Client{},
	}
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}

func (t *HTTPTransport) Transfer(ctx context.Context, c Candidate, progress ProgressFunc) (string, error) {
	if c.Open == nil {
		return "", &TransferError{Err: errors.New("candidate can't be opened")}
	}

	f, err := c.Open()
	if err != nil {
		return "", &TransferError{Err: fmt.Errorf("failed to open candidate, %w", err)}
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeForm(mw, c, &progressReader{r: f, total: c.Size, fn: progress}))
	}()

	// The writer goroutine must be gone before returning so that no progress
	// is reported after Transfer
	defer func() {
		pr.CloseWithError(io.ErrClosedPipe)
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/api/videos/upload", pr)
	if err != nil {
		return "", &TransferError{Err: err}
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.TurnstileToken != "" {
		req.Header.Set("TurnstileToken", t.TurnstileToken)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return "", &TransferError{Err: err}
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil && resp.StatusCode == http.StatusOK {
		return "", &TransferError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response, %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &TransferError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	if body.VideoID == "" {
		return "", &TransferError{StatusCode: resp.StatusCode, Err: ErrNoVideoID}
	}

	return body.VideoID, nil
}

func writeForm(mw *multipart.Writer, c Candidate, body io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, c.Name))
	h.Set("Content-Type", c.ContentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, body); err != nil {
		return err
	}

	return mw.Close()
}

// HTTPClipGenerator asks the ingestion server to hand a video over to clip
// generation
type HTTPClipGenerator struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPClipGenerator(baseURL string) *HTTPClipGenerator {
	return &HTTPClipGenerator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *HTTPClipGenerator) Generate(ctx context.Context, videoID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/api/videos/"+videoID+"/clips", nil)
	if err != nil {
		return err
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return &TransferError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var body apiResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)

		return &TransferError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	return nil
}
