// Package media handles attachment uploads: content-addressed storage in an
// S3-compatible bucket via MinIO, sha256 dedup against the files table, and
// image post-processing (dimensions, blurhash placeholder, EXIF stripping).
// For images it also reports a thumbnail storage key; no thumbnail image is
// generated or stored under that key.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fechatter/fechatter/internal/models"
)

// Config configures object storage and upload limits. MaxUploadMB defaults
// to 100 when unset, matching config.defaults().
type Config struct {
	Endpoint    string
	Bucket      string
	AccessKey   string
	SecretKey   string
	Region      string
	UseSSL      bool
	MaxUploadMB int
}

func (c Config) maxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 100 * 1024 * 1024
	}
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// thumbnailSizes are the pixel widths a thumbnail key can name; Upload
// reports the key for the first (smallest) size only.
var thumbnailSizes = []int{64, 256, 1024}

// Service is the file storage composition root: MinIO object storage plus
// the files table's content-addressed dedup index.
type Service struct {
	client *minio.Client
	pool   *pgxpool.Pool
	logger *slog.Logger

	bucket         string
	maxUpload      int64
	stripExif      bool
	thumbnailSizes []int
}

// New dials the configured MinIO endpoint and returns a Service. It does not
// create the bucket; call EnsureBucket once at startup.
func New(cfg Config, pool *pgxpool.Pool, logger *slog.Logger) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("media: connecting to object storage: %w", err)
	}
	return &Service{
		client:         client,
		pool:           pool,
		logger:         logger,
		bucket:         cfg.Bucket,
		maxUpload:      cfg.maxUploadBytes(),
		stripExif:      true,
		thumbnailSizes: thumbnailSizes,
	}, nil
}

// HealthCheck verifies the object storage endpoint is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("media: health check: %w", err)
	}
	return nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
// Call once at startup, mirroring search.Service.EnsureIndexes.
func (s *Service) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("media: checking bucket: %w", err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("media: creating bucket: %w", err)
	}
	return nil
}

// UploadInput is one attachment upload request.
type UploadInput struct {
	Filename string
	Mime     string
	Data     []byte
}

// UploadResult is returned to the caller for immediate rendering; only the
// FileRef fields are persisted on the owning message.
type UploadResult struct {
	models.FileRef
	Width     *int
	Height    *int
	Blurhash  *string
	Thumbnail string
}

// ErrTooLarge is returned when an upload exceeds the configured max size.
var ErrTooLarge = errors.New("media: upload exceeds max size")

// Upload stores data, deduplicating by sha256 against the files table. A
// duplicate upload (same digest, regardless of filename) reuses the existing
// storage_key and skips the put entirely.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if int64(len(in.Data)) > s.maxUpload {
		return UploadResult{}, ErrTooLarge
	}

	sum := sha256.Sum256(in.Data)
	digest := hex.EncodeToString(sum[:])

	if existing, ok, err := s.lookupBySHA256(ctx, digest); err != nil {
		return UploadResult{}, err
	} else if ok {
		res := UploadResult{FileRef: existing}
		if isImage(in.Mime) {
			img := s.processImage(in.Data, in.Mime)
			res.Width, res.Height, res.Blurhash = img.width, img.height, img.blurhash
			res.Thumbnail = ThumbnailURL(existing.StorageKey, extractDatePath(existing.StorageKey), s.thumbnailSizes[0])
		}
		return res, nil
	}

	datePath := time.Now().UTC().Format("2006/01/02")
	key := fmt.Sprintf("attachments/%s/%s", datePath, digest)

	payload := in.Data
	img := s.processImage(in.Data, in.Mime)
	if img.stripped != nil {
		payload = img.stripped
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: in.Mime})
	if err != nil {
		return UploadResult{}, fmt.Errorf("media: storing object: %w", err)
	}

	ref := models.FileRef{StorageKey: key, Size: int64(len(payload)), Mime: in.Mime, SHA256: digest}
	if err := s.insertFileRef(ctx, ref); err != nil {
		return UploadResult{}, err
	}

	res := UploadResult{FileRef: ref, Width: img.width, Height: img.height, Blurhash: img.blurhash}
	if isImage(in.Mime) {
		res.Thumbnail = ThumbnailURL(key, datePath, s.thumbnailSizes[0])
	}
	return res, nil
}

// PresignedDownloadURL returns a short-lived URL for direct client download,
// keeping attachment bytes off the chat service's own connections.
func (s *Service) PresignedDownloadURL(ctx context.Context, storageKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, storageKey, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("media: presigning download: %w", err)
	}
	return u.String(), nil
}

func (s *Service) lookupBySHA256(ctx context.Context, digest string) (models.FileRef, bool, error) {
	var ref models.FileRef
	err := s.pool.QueryRow(ctx,
		`SELECT storage_key, size, mime, sha256 FROM files WHERE sha256 = $1`, digest,
	).Scan(&ref.StorageKey, &ref.Size, &ref.Mime, &ref.SHA256)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FileRef{}, false, nil
	}
	if err != nil {
		return models.FileRef{}, false, fmt.Errorf("media: looking up file by digest: %w", err)
	}
	return ref, true, nil
}

func (s *Service) insertFileRef(ctx context.Context, ref models.FileRef) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (storage_key, size, mime, sha256) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sha256) DO NOTHING`,
		ref.StorageKey, ref.Size, ref.Mime, ref.SHA256,
	)
	if err != nil {
		return fmt.Errorf("media: recording file: %w", err)
	}
	return nil
}

func isImage(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

// writeJSON writes the standard {"data": ...} success envelope, matching
// apiutil.WriteJSON but kept package-local since media's upload handler
// needs no request-ID lookup.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Data interface{} `json:"data"`
	}{Data: data})
}

// writeError writes the standard {"error": {...}} envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{Error: struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}})
}

// ServeUpload is a thin HTTP handler suitable for mounting directly; callers
// that need authorization wrap this with their own middleware before
// mounting it (internal/httpapi mounts it behind auth.RequireAuth).
func (s *Service) ServeUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "upload exceeds max size")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "reading upload body")
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	res, err := s.Upload(r.Context(), UploadInput{Filename: header.Filename, Mime: mime, Data: data})
	if errors.Is(err, ErrTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", "upload exceeds max size")
		return
	}
	if err != nil {
		s.logger.Error("media: upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
