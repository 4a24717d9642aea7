package api

import (
	"bitwise74/clip-ingest/config"
	"bitwise74/clip-ingest/db"
	"bitwise74/clip-ingest/model"
	"bitwise74/clip-ingest/service"
	"bitwise74/clip-ingest/storage"
	"bitwise74/clip-ingest/validators"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mp4Payload = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1"), bytes.Repeat([]byte{0}, 4096)...)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		App:  config.App{LogLevel: "error"},
		Host: config.Host{Port: 8080, CORSOrigins: []string{"http://localhost:3000"}},
		Upload: config.Upload{
			MaxSize:      1 << 20,
			AllowedTypes: validators.AcceptedTypes,
			SniffContent: true,
		},
		Storage: config.Storage{Type: "local", LocalDir: "uploads"},
		DB:      config.DB{Driver: "memory"},
		Handoff: config.Handoff{Workers: 1, QueueSize: 1},
	}
}

type harness struct {
	api    *API
	store  *storage.LocalStore
	videos *db.MemoryVideoRepository
	clips  chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  storage.NewLocalStore(afero.NewMemMapFs(), "uploads"),
		videos: db.NewMemoryVideoRepository(),
		clips:  make(chan string, 4),
	}

	q := service.NewLocalDispatcher(1, 4, func(_ context.Context, id string) error {
		h.clips <- id
		return nil
	})
	q.StartWorkerPool()

	h.api = New(testConfig(), Deps{
		Videos:     h.videos,
		Store:      h.store,
		Dispatcher: q,
	})
	t.Cleanup(func() { h.api.Close() })

	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.api.Router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, field, name, contentType string, data []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)

	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodHead, "/api/heartbeat", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVideoUpload(t *testing.T) {
	h := newHarness(t)

	w := h.do(uploadRequest(t, "file", "clip.mp4", "video/mp4", mp4Payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	id, _ := decode(t, w)["videoId"].(string)
	require.NotEmpty(t, id)

	v, err := h.videos.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", v.Filename)
	assert.Equal(t, int64(len(mp4Payload)), v.Size)
	assert.Equal(t, storage.VideoKey(id, "video/mp4"), v.StorageKey)

	obj, err := h.store.Stat(context.Background(), v.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, int64(len(mp4Payload)), obj.Size)
}

func TestVideoUploadSameFilenameTwice(t *testing.T) {
	h := newHarness(t)

	var ids []string
	for range 2 {
		w := h.do(uploadRequest(t, "file", "same.mp4", "video/mp4", mp4Payload))
		require.Equal(t, http.StatusOK, w.Code)
		ids = append(ids, decode(t, w)["videoId"].(string))
	}

	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, 2, h.videos.Len())

	objs, err := h.store.List(context.Background(), storage.VideoPrefix)
	require.NoError(t, err)
	assert.Len(t, objs, 2)
}

func TestVideoUploadRejects(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"missing file field", func(t *testing.T) *http.Request {
			return uploadRequest(t, "video", "clip.mp4", "video/mp4", mp4Payload)
		}},
		{"unsupported declared type", func(t *testing.T) *http.Request {
			return uploadRequest(t, "file", "clip.png", "image/png", mp4Payload)
		}},
		{"payload does not match type", func(t *testing.T) *http.Request {
			return uploadRequest(t, "file", "clip.mp4", "video/mp4", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
		}},
		{"over the size ceiling", func(t *testing.T) *http.Request {
			return uploadRequest(t, "file", "clip.mp4", "video/mp4", append(mp4Payload, make([]byte, 1<<20)...))
		}},
		{"not multipart", func(t *testing.T) *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/api/videos/upload", bytes.NewReader(mp4Payload))
			req.Header.Set("Content-Type", "video/mp4")
			return req
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			w := h.do(tt.req(t))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
			assert.Zero(t, h.videos.Len())

			objs, err := h.store.List(context.Background(), "")
			require.NoError(t, err)
			assert.Empty(t, objs)
		})
	}
}

type brokenRepo struct {
	*db.MemoryVideoRepository
}

func (brokenRepo) Create(context.Context, *model.Video) error {
	return errors.New("connection refused")
}

func TestVideoUploadMetadataFailure(t *testing.T) {
	store := storage.NewLocalStore(afero.NewMemMapFs(), "uploads")
	a := New(testConfig(), Deps{
		Videos:     brokenRepo{db.NewMemoryVideoRepository()},
		Store:      store,
		Dispatcher: service.NewLocalDispatcher(1, 1, nil),
	})

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, uploadRequest(t, "file", "clip.mp4", "video/mp4", mp4Payload))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to upload video", decode(t, w)["error"])

	objs, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestVideoFetchAndServe(t *testing.T) {
	h := newHarness(t)

	w := h.do(uploadRequest(t, "file", "clip.mp4", "video/mp4", mp4Payload))
	require.Equal(t, http.StatusOK, w.Code)
	id := decode(t, w)["videoId"].(string)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/videos/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "clip.mp4", body["filename"])
	assert.Equal(t, "/api/videos/"+id+"/stream", body["url"])
	assert.NotContains(t, body, "storageKey")

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/videos/"+id+"/stream", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Equal(t, mp4Payload, w.Body.Bytes())

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+id+"/stream", nil)
	req.Header.Set("Range", "bytes=4-11")
	w = h.do(req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "ftypisom", w.Body.String())
}

func TestVideoFetchErrors(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/videos/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/videos/0f8fad5b-d9cb-469f-a165-70867728950e", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVideoClips(t *testing.T) {
	h := newHarness(t)

	w := h.do(uploadRequest(t, "file", "clip.mp4", "video/mp4", mp4Payload))
	require.Equal(t, http.StatusOK, w.Code)
	id := decode(t, w)["videoId"].(string)

	w = h.do(httptest.NewRequest(http.MethodPost, "/api/videos/"+id+"/clips", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, id, decode(t, w)["videoId"])

	select {
	case got := <-h.clips:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("clip job was never handled")
	}

	w = h.do(httptest.NewRequest(http.MethodPost, "/api/videos/0f8fad5b-d9cb-469f-a165-70867728950e/clips", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVideoStreamMissingPayload(t *testing.T) {
	h := newHarness(t)

	id := "0f8fad5b-d9cb-469f-a165-70867728950e"
	require.NoError(t, h.videos.Create(context.Background(), &model.Video{
		ID:          id,
		Filename:    "gone.mp4",
		StorageKey:  storage.VideoKey(id, "video/mp4"),
		ContentType: "video/mp4",
	}))

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/videos/"+id+"/stream", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVideoUploadBrandedMP4(t *testing.T) {
	h := newHarness(t)

	m4v := append([]byte("\x00\x00\x00\x18ftypM4V \x00\x00\x02\x00M4V isom"), bytes.Repeat([]byte{0}, 1024)...)

	w := h.do(uploadRequest(t, "file", "phone.mp4", "video/mp4", m4v))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, h.videos.Len())
}
