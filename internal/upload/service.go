package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// mimeTypes maps accepted extensions to the media types a client may declare
// for them.
var mimeTypes = map[string][]string{
	"jpeg": {"image/jpeg"},
	"jpg":  {"image/jpeg"},
	"png":  {"image/png"},
	"gif":  {"image/gif"},
	"pdf":  {"application/pdf"},
	"doc":  {"application/msword"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"txt":  {"text/plain"},
}

// mediaTypeFor returns the canonical media type for the extension of name.
func mediaTypeFor(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if types := mimeTypes[ext]; len(types) > 0 {
		return types[0]
	}
	return "application/octet-stream"
}

// ErrFileTooLarge is an upload above the configured size limit.
var ErrFileTooLarge = errors.New("file too large")

// ErrInvalidType is an upload whose extension or media type is not accepted.
var ErrInvalidType = errors.New("invalid file type")

// Service accepts uploads and resolves attachment descriptors.
type Service struct {
	storage   Storage
	maxSize   int64
	allowed   map[string]struct{}
	urlExpiry time.Duration
	now       func() time.Time
	newID     func() string
}

// NewService wraps storage with the limits from cfg.
func NewService(storage Storage, cfg Config) *Service {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions()
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = struct{}{}
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{
		storage:   storage,
		maxSize:   maxSize,
		allowed:   allowed,
		urlExpiry: expiry,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *Service) checkType(filename, contentType string) (string, string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if _, ok := s.allowed[ext]; !ok {
		return "", "", fmt.Errorf("%w: extension %q", ErrInvalidType, ext)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", "", fmt.Errorf("%w: media type %q", ErrInvalidType, contentType)
	}
	for _, t := range mimeTypes[ext] {
		if t == mediaType {
			return ext, mediaType, nil
		}
	}
	return "", "", fmt.Errorf("%w: media type %q for .%s", ErrInvalidType, mediaType, ext)
}

// ServeHTTP handles POST /api/upload with the file in the "file" field.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := logging.Ctx(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrFileTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Size > s.maxSize {
		writeError(w, http.StatusRequestEntityTooLarge, ErrFileTooLarge.Error())
		return
	}
	ext, mediaType, err := s.checkType(header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		l.Debug().Err(err).Str("filename", header.Filename).Msg("upload rejected")
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	key := fmt.Sprintf("%d-%s.%s", s.now().UnixMilli(), s.newID(), ext)
	if err := s.storage.Write(r.Context(), key, file, header.Size, mediaType); err != nil {
		l.Error().Err(err).Str("key", key).Msg("failed to store upload")
		writeError(w, http.StatusInternalServerError, "File upload failed")
		return
	}
	url, err := s.storage.GetURL(r.Context(), key, s.urlExpiry)
	if err != nil {
		l.Error().Err(err).Str("key", key).Msg("failed to build upload url")
		if derr := s.storage.Delete(r.Context(), key); derr != nil {
			l.Warn().Err(derr).Str("key", key).Msg("failed to remove orphaned upload")
		}
		writeError(w, http.StatusInternalServerError, "File upload failed")
		return
	}

	l.Info().Str("key", key).Int64("size", header.Size).Msg("file uploaded")
	writeJSON(w, http.StatusOK, chat.FileAttachment{
		Filename:     key,
		OriginalName: header.Filename,
		MimeType:     mediaType,
		Size:         header.Size,
		URL:          url,
	})
}

// Resolve checks that the attachment refers to a stored object and returns
// a descriptor built from the stored object. Only the filename and original
// name are taken from the client.
func (s *Service) Resolve(ctx context.Context, file chat.FileAttachment) (*chat.FileAttachment, error) {
	key := path.Base(strings.TrimSpace(file.Filename))
	if key == "" || key == "." || key == "/" {
		return nil, fmt.Errorf("%w: attachment has no filename", chat.ErrUploadFailed)
	}
	info, err := s.storage.Stat(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrUploadFailed, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s is not stored", chat.ErrUploadFailed, key)
	}
	url, err := s.storage.GetURL(ctx, key, s.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrUploadFailed, err)
	}

	contentType := info.ContentType
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	} else {
		contentType = mediaTypeFor(key)
	}
	return &chat.FileAttachment{
		Filename:     key,
		OriginalName: file.OriginalName,
		MimeType:     contentType,
		Size:         info.Size,
		URL:          url,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
