package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"verdant/adapters/database"
	"verdant/adapters/oidc"
)

const (
	aliceToken = "token-alice"
	bobToken   = "token-bob"
	alice      = "alice-sub"
	bob        = "bob-sub"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeVerifier 以固定的 token 對應到使用者
type fakeVerifier map[string]string

func (v fakeVerifier) Verify(_ context.Context, rawToken string) (*oidc.Identity, error) {
	subject, ok := v[rawToken]
	if !ok {
		return nil, oidc.ErrInvalidToken
	}
	return &oidc.Identity{Subject: subject, Email: subject + "@garden.test", Name: strings.TrimSuffix(subject, "-sub")}, nil
}

// memoryStore 記憶體中的物件儲存，failDelete 用於模擬刪除失敗
type memoryStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failDelete bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, path string, content []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = content
	return nil
}

func (s *memoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errors.New("bucket unavailable")
	}
	delete(s.objects, path)
	return nil
}

func (s *memoryStore) PublicURL(path string) string {
	return "https://cdn.example.com/" + path
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *memoryStore) setFailDelete(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete = fail
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, SQLitePath: ":memory:", LogLevel: gormLogger.Silent})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type testServer struct {
	impl   *ServerImpl
	router *gin.Engine
	db     *gorm.DB
	store  *memoryStore
}

func newTestServer(t *testing.T, config ServerConfig, mutate ...func(*Dependencies)) *testServer {
	t.Helper()
	db := newTestDB(t)
	store := newMemoryStore()
	deps := Dependencies{
		DB:       db,
		Store:    store,
		Verifier: fakeVerifier{aliceToken: alice, bobToken: bob},
		Logger:   discardLogger,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	impl, err := New(config, deps)
	require.NoError(t, err)
	t.Cleanup(impl.Close)
	return &testServer{impl: impl, router: impl.Router(), db: db, store: store}
}

type testEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var body testEnvelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

// doJSON 以指定的 token 送出 JSON 請求，token 為空時不帶 Authorization
func (ts *testServer) doJSON(t *testing.T, method, path, token string, payload any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(t, req)
}

type uploadFile struct {
	name    string
	content []byte
}

func (ts *testServer) upload(t *testing.T, plantID, token string, files []uploadFile, fields map[string]string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range files {
		part, err := writer.CreateFormFile("images", file.name)
		require.NoError(t, err)
		_, err = part.Write(file.content)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/plants/"+plantID, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return ts.do(t, req)
}

// createPlant 透過 API 建立植物並回傳 id
func (ts *testServer) createPlant(t *testing.T, token, name string, extra map[string]any) string {
	t.Helper()
	payload := map[string]any{"plant_name": name, "plant_type": "herb"}
	for k, v := range extra {
		payload[k] = v
	}
	w, body := ts.doJSON(t, http.MethodPost, "/api/v1/plants", token, payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var data struct {
		Plant struct {
			ID string `json:"id"`
		} `json:"plant"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	return data.Plant.ID
}

type testImage struct {
	ID           string  `json:"id"`
	PlantID      string  `json:"plant_id"`
	StoragePath  string  `json:"storage_path"`
	ImageURL     string  `json:"image_url"`
	Caption      *string `json:"caption"`
	IsPrimary    bool    `json:"is_primary"`
	DisplayOrder int     `json:"display_order"`
}

func decodeImages(t *testing.T, body testEnvelope) []testImage {
	t.Helper()
	var data struct {
		Images []testImage `json:"images"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	return data.Images
}

func decodeImage(t *testing.T, body testEnvelope) testImage {
	t.Helper()
	var data struct {
		Image testImage `json:"image"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	return data.Image
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: 120, B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngFiles(t *testing.T, n int) []uploadFile {
	t.Helper()
	files := make([]uploadFile, n)
	for i := range files {
		files[i] = uploadFile{name: "leaf.png", content: pngBytes(t, 4, 3)}
	}
	return files
}
