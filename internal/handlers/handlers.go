package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/imaging"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

// uploadFields are the multipart field names accepted for the photograph.
var uploadFields = []string{"file", "image"}

type Handler struct {
	predictor *model.Predictor
	log       *logrus.Entry
	uploadDir string
	maxUpload int64
	upgrader  websocket.Upgrader
}

type Options struct {
	UploadDir   string // uploads are archived here when set
	MaxUploadMB int64
}

func NewHandler(predictor *model.Predictor, log *logrus.Entry, opts Options) *Handler {
	maxUpload := opts.MaxUploadMB << 20
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handler{
		predictor: predictor,
		log:       log,
		uploadDir: opts.UploadDir,
		maxUpload: maxUpload,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes registers every endpoint on mux, wrapping each with wrap.
func (h *Handler) Routes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("/health", wrap(h.Health))
	mux.HandleFunc("/predict", wrap(h.Predict))
	mux.HandleFunc("/predict/tensor", wrap(h.PredictTensor))
	mux.HandleFunc("/ws", h.Stream)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"classes":    len(h.predictor.Classes),
		"image_size": h.predictor.InputSize(),
	})
}

// Predict classifies a multipart upload sent as field "file" or "image".
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.ContentLength > h.maxUpload {
		http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	var (
		data     []byte
		filename string
	)
	for _, field := range uploadFields {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		data, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			http.Error(w, "Failed to read upload", http.StatusBadRequest)
			return
		}
		filename = header.Filename
		break
	}
	if data == nil {
		http.Error(w, "No image file provided. Use 'file' or 'image' as the form field name", http.StatusBadRequest)
		return
	}

	log := h.log.WithFields(logrus.Fields{"file": filename, "size": len(data)})
	log.Debug("Received upload")

	if h.uploadDir != "" {
		if path, err := h.archive(filename, data); err != nil {
			log.WithError(err).Warn("Failed to archive upload")
		} else {
			log = log.WithField("path", path)
		}
	}

	img, err := imaging.DecodeBytes(data)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	result, err := h.predictor.PredictImage(img)
	if err != nil {
		h.fail(w, log, err)
		return
	}
	log.WithFields(logrus.Fields{"label": result.Label, "confidence": result.Confidence}).Info("Prediction")
	writeJSON(w, http.StatusOK, result)
}

// PredictTensor classifies an image that the caller already preprocessed
// into a CHW float array.
func (h *Handler) PredictTensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxUpload))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req model.TensorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	size := h.predictor.InputSize()
	if expected := imaging.Channels * size * size; len(req.Image) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Image)), http.StatusBadRequest)
		return
	}

	result, err := h.predictor.PredictTensor(req.Image)
	if err != nil {
		h.fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type streamError struct {
	Error string `json:"error"`
}

// Stream upgrades to a websocket and answers each binary image frame with a
// JSON prediction. Undecodable frames get an error message and the
// connection stays open.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxUpload)

	log := h.log.WithField("remote", r.RemoteAddr)
	log.Info("Stream connected")
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Stream closed")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			if err := conn.WriteJSON(streamError{Error: "expected a binary image frame"}); err != nil {
				return
			}
			continue
		}

		var reply any
		result, err := h.predictFrame(frame)
		if err != nil {
			log.WithError(err).Warn("Stream prediction failed")
			reply = streamError{Error: err.Error()}
		} else {
			reply = result
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.WithError(err).Warn("Stream write failed")
			return
		}
	}
}

func (h *Handler) predictFrame(frame []byte) (*model.PredictionResult, error) {
	img, err := imaging.DecodeBytes(frame)
	if err != nil {
		return nil, err
	}
	return h.predictor.PredictImage(img)
}

func (h *Handler) fail(w http.ResponseWriter, log *logrus.Entry, err error) {
	var decodeErr *imaging.DecodeError
	if errors.As(err, &decodeErr) {
		http.Error(w, "Invalid image format", http.StatusBadRequest)
		return
	}
	log.WithError(err).Error("Prediction failed")
	http.Error(w, "Prediction failed", http.StatusInternalServerError)
}

// archive stores an upload under a fresh uuid, keeping only the extension
// of the client supplied name.
func (h *Handler) archive(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !imaging.Extensions[ext] {
		ext = ".img"
	}
	path := filepath.Join(h.uploadDir, uuid.NewString()+ext)
	return path, os.WriteFile(path, data, 0644)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
