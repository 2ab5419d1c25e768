package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

type fakeBackend struct {
	logits []float32
	err    error
}

func (f *fakeBackend) Logits([]float32) ([]float32, error) { return f.logits, f.err }
func (f *fakeBackend) InputSize() int                      { return 4 }
func (f *fakeBackend) Close() error                        { return nil }

func newTestHandler(t *testing.T, backend model.Backend, opts Options) *Handler {
	p, err := model.NewPredictor(backend, []string{"Apple___Black_rot", "Apple___healthy"})
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHandler(p, logrus.NewEntry(log), opts)
}

func pngData(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 6, 6))))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{logits: []float32{0, 1}}, Options{})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["classes"])
}

func TestPredictUpload(t *testing.T) {
	uploads := t.TempDir()
	h := newTestHandler(t, &fakeBackend{logits: []float32{0, 3}}, Options{UploadDir: uploads})

	for _, field := range []string{"file", "image"} {
		rec := httptest.NewRecorder()
		h.Predict(rec, multipartRequest(t, field, "leaf.PNG", pngData(t)))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res model.PredictionResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, "Apple", res.Crop)
		assert.Equal(t, model.HealthyDisease, res.Disease)
		assert.Equal(t, "Apple___healthy", res.Label)
		assert.Greater(t, res.Confidence, float32(0.9))
	}

	entries, err := os.ReadDir(uploads)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".png"))
}

func TestPredictErrors(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{logits: []float32{1, 0}}, Options{})

	rec := httptest.NewRecorder()
	h.Predict(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "photo", "leaf.png", pngData(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", "leaf.png", []byte("definitely not a png")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failing := newTestHandler(t, &fakeBackend{err: errors.New("session lost")}, Options{})
	rec = httptest.NewRecorder()
	failing.Predict(rec, multipartRequest(t, "file", "leaf.png", pngData(t)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPredictTooLarge(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{logits: []float32{0, 1}}, Options{MaxUploadMB: 1})

	rec := httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", "leaf.png", bytes.Repeat([]byte{0x89}, 2<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", "leaf.png", pngData(t)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictTensor(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{logits: []float32{2, 0}}, Options{})

	payload, err := json.Marshal(model.TensorRequest{Image: make([]float32, 3*4*4)})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.PredictTensor(rec, httptest.NewRequest(http.MethodPost, "/predict/tensor", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)
	var res model.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, model.UnknownCrop, res.Crop)
	assert.Equal(t, "Apple   Black rot", res.Disease)

	short, err := json.Marshal(model.TensorRequest{Image: make([]float32, 5)})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.PredictTensor(rec, httptest.NewRequest(http.MethodPost, "/predict/tensor", bytes.NewReader(short)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.PredictTensor(rec, httptest.NewRequest(http.MethodPost, "/predict/tensor", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStream(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{logits: []float32{0, 1}}, Options{})
	mux := http.NewServeMux()
	h.Routes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pngData(t)))
	var res model.PredictionResult
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "Apple___healthy", res.Label)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	var failure streamError
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Contains(t, failure.Error, "cannot decode image")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "expected a binary image frame", failure.Error)
}
