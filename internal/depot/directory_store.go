package depot

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DirectoryStore is a FileStore backed by plain files. Part content is
// staged under uploads/<id>/ and finish concatenates the parts into a
// payload file under objects/, with a JSON sidecar under handles/
// carrying the object's metadata. Reads are plain *os.File, so the
// returned content readers support full seeking.
type DirectoryStore struct {
	cfg Config

	now func() time.Time
}

var (
	_ FileStore          = (*DirectoryStore)(nil)
	_ UploadIntrospector = (*DirectoryStore)(nil)
	_ Sweeper            = (*DirectoryStore)(nil)
)

// uploadManifest is the on-disk record of an in-flight upload.
type uploadManifest struct {
	Upload   Upload `json:"upload"`
	NumParts int    `json:"num_parts"`
}

// NewDirectoryStore creates the store's directory layout under
// cfg.DataDir.
func NewDirectoryStore(cfg Config) (*DirectoryStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	for _, dir := range []string{"uploads", "objects", "handles"} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}

	return &DirectoryStore{cfg: cfg, now: time.Now}, nil
}

func (s *DirectoryStore) Close() error {
	return nil
}

func (s *DirectoryStore) uploadDir(uploadID string) string {
	return filepath.Join(s.cfg.DataDir, "uploads", uploadID)
}

func (s *DirectoryStore) partPath(uploadID string, partNumber int) string {
	return filepath.Join(s.uploadDir(uploadID), fmt.Sprintf("%d.part", partNumber))
}

func (s *DirectoryStore) objectPath(key string) string {
	return filepath.Join(s.cfg.DataDir, "objects", url.PathEscape(key))
}

func (s *DirectoryStore) handlePath(key string) string {
	return filepath.Join(s.cfg.DataDir, "handles", url.PathEscape(key)+".json")
}

// readManifest loads an upload's manifest, treating expired uploads as
// already reaped.
func (s *DirectoryStore) readManifest(uploadID string) (*uploadManifest, error) {
	data, err := os.ReadFile(filepath.Join(s.uploadDir(uploadID), "upload.json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read upload manifest: %w", err)
	}

	var m uploadManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode upload manifest: %w", err)
	}
	if !m.Upload.ExpireAt.After(s.now().UTC()) {
		return nil, fmt.Errorf("upload %s expired: %w", uploadID, ErrNotFound)
	}
	return &m, nil
}

// partID encodes the upload id and part number into one token; uuids
// never contain dots, so the separator is unambiguous.
func (s *DirectoryStore) partID(uploadID string, partNumber int) string {
	return fmt.Sprintf("%s.%d", uploadID, partNumber)
}

func (s *DirectoryStore) parsePartID(partID string) (uploadID string, partNumber int, err error) {
	uploadID, numStr, ok := strings.Cut(partID, ".")
	if !ok {
		return "", 0, fmt.Errorf("part %s: %w", partID, ErrNotFound)
	}
	partNumber, err = strconv.Atoi(numStr)
	if err != nil || partNumber < 1 {
		return "", 0, fmt.Errorf("part %s: %w", partID, ErrNotFound)
	}
	return uploadID, partNumber, nil
}

func (s *DirectoryStore) BeginUpload(ctx context.Context, key, contentType string, sizeInBytes int64) (*Upload, []UploadPart, error) {
	if key == "" {
		return nil, nil, errors.New("key must not be empty")
	}
	if sizeInBytes < 0 {
		return nil, nil, fmt.Errorf("negative size %d", sizeInBytes)
	}
	if sizeInBytes > s.cfg.MaxFileSize {
		return nil, nil, fmt.Errorf("declared size %d exceeds maximum %d: %w", sizeInBytes, s.cfg.MaxFileSize, ErrSizeExceeded)
	}
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}

	numParts := 1
	if sizeInBytes > 0 {
		numParts = int((sizeInBytes + s.cfg.MaxPartSize - 1) / s.cfg.MaxPartSize)
	}

	now := s.now().UTC()
	upload := &Upload{
		ID:          uuid.NewString(),
		Key:         key,
		ContentType: contentType,
		SizeInBytes: sizeInBytes,
		ExpireAt:    now.Add(s.cfg.UploadExpireIn),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := os.MkdirAll(s.uploadDir(upload.ID), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create upload dir: %w", err)
	}

	manifest, err := json.Marshal(uploadManifest{Upload: *upload, NumParts: numParts})
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(filepath.Join(s.uploadDir(upload.ID), "upload.json"), manifest, 0o644); err != nil {
		return nil, nil, fmt.Errorf("write upload manifest: %w", err)
	}

	parts := make([]UploadPart, 0, numParts)
	for n := 1; n <= numParts; n++ {
		id := s.partID(upload.ID, n)
		parts = append(parts, UploadPart{
			ID:         id,
			UploadID:   upload.ID,
			PartNumber: n,
			UploadURL:  fmt.Sprintf("/data/%s-part/%s", s.cfg.Name, id),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	uploadsStarted.Inc()
	return upload, parts, nil
}

func (s *DirectoryStore) SavePart(ctx context.Context, partID string, src io.Reader) (*UploadPart, error) {
	uploadID, partNumber, err := s.parsePartID(partID)
	if err != nil {
		return nil, err
	}
	manifest, err := s.readManifest(uploadID)
	if err != nil {
		return nil, err
	}
	if partNumber > manifest.NumParts {
		return nil, fmt.Errorf("part %s: %w", partID, ErrNotFound)
	}

	// Write to a temp file first so a failed save never leaves a
	// truncated part behind.
	tmp, err := os.CreateTemp(s.uploadDir(uploadID), "part-*")
	if err != nil {
		return nil, fmt.Errorf("create temp part file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, io.LimitReader(src, s.cfg.MaxPartSize+1))
	if err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write part content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if size > s.cfg.MaxPartSize {
		return nil, fmt.Errorf("part exceeds maximum size %d: %w", s.cfg.MaxPartSize, ErrCapacityExceeded)
	}

	if err := os.Rename(tmp.Name(), s.partPath(uploadID, partNumber)); err != nil {
		return nil, fmt.Errorf("move part into place: %w", err)
	}

	return &UploadPart{
		ID:          partID,
		UploadID:    uploadID,
		PartNumber:  partNumber,
		SizeInBytes: size,
		UploadURL:   fmt.Sprintf("/data/%s-part/%s", s.cfg.Name, partID),
		UpdatedAt:   s.now().UTC(),
	}, nil
}

func (s *DirectoryStore) FinishUpload(ctx context.Context, uploadID string) (*FileHandle, error) {
	manifest, err := s.readManifest(uploadID)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.cfg.DataDir, "objects"), "assemble-*")
	if err != nil {
		return nil, fmt.Errorf("create assembly file: %w", err)
	}
	defer os.Remove(tmp.Name())

	digest := md5.New()
	var size int64
	out := io.MultiWriter(tmp, digest)
	for n := 1; n <= manifest.NumParts; n++ {
		part, err := os.Open(s.partPath(uploadID, n))
		if os.IsNotExist(err) {
			// Slot was never saved; contributes nothing.
			continue
		}
		if err != nil {
			_ = tmp.Close()
			return nil, fmt.Errorf("open part %d: %w", n, err)
		}
		written, err := io.Copy(out, part)
		_ = part.Close()
		if err != nil {
			_ = tmp.Close()
			return nil, fmt.Errorf("assemble part %d: %w", n, err)
		}
		size += written
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	key := manifest.Upload.Key
	if err := os.Rename(tmp.Name(), s.objectPath(key)); err != nil {
		return nil, fmt.Errorf("move object into place: %w", err)
	}

	now := s.now().UTC()
	handle := &FileHandle{
		Key:         key,
		ContentType: manifest.Upload.ContentType,
		SizeInBytes: size,
		ETag:        hex.EncodeToString(digest.Sum(nil)),
		DownloadURL: fmt.Sprintf("/data/%s/%s", s.cfg.Name, key),
		UploadedAt:  now,
		StreamID:    uploadID,
	}

	sidecar, err := json.Marshal(handle)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.handlePath(key), sidecar, 0o644); err != nil {
		return nil, fmt.Errorf("write handle sidecar: %w", err)
	}

	if err := os.RemoveAll(s.uploadDir(uploadID)); err != nil {
		return nil, fmt.Errorf("remove upload dir: %w", err)
	}

	uploadsFinished.Inc()
	return handle, nil
}

func (s *DirectoryStore) AbortUpload(ctx context.Context, uploadID string) (bool, error) {
	dir := s.uploadDir(uploadID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove upload dir: %w", err)
	}
	uploadsAborted.Inc()
	return true, nil
}

func (s *DirectoryStore) ReadUpload(ctx context.Context, uploadID string) (*Upload, error) {
	manifest, err := s.readManifest(uploadID)
	if err != nil {
		return nil, err
	}
	return &manifest.Upload, nil
}

func (s *DirectoryStore) SearchParts(ctx context.Context, uploadID, pageKey string, limit int) (*UploadPartPage, error) {
	manifest, err := s.readManifest(uploadID)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	after := 0
	if pageKey != "" {
		n, err := parsePageNumber(pageKey)
		if err != nil {
			return nil, err
		}
		after = n
	}

	var page UploadPartPage
	for n := after + 1; n <= manifest.NumParts; n++ {
		if len(page.Items) == limit {
			page.NextPageKey = strconv.Itoa(page.Items[limit-1].PartNumber)
			break
		}

		part := UploadPart{
			ID:         s.partID(uploadID, n),
			UploadID:   uploadID,
			PartNumber: n,
			CreatedAt:  manifest.Upload.CreatedAt,
			UpdatedAt:  manifest.Upload.CreatedAt,
		}
		part.UploadURL = fmt.Sprintf("/data/%s-part/%s", s.cfg.Name, part.ID)
		if info, err := os.Stat(s.partPath(uploadID, n)); err == nil {
			part.SizeInBytes = info.Size()
			part.UpdatedAt = info.ModTime().UTC()
		}
		page.Items = append(page.Items, part)
	}
	return &page, nil
}

func (s *DirectoryStore) CountParts(ctx context.Context, uploadID string) (int, error) {
	manifest, err := s.readManifest(uploadID)
	if err != nil {
		return 0, err
	}
	return manifest.NumParts, nil
}

func (s *DirectoryStore) ReadFile(ctx context.Context, key string) (*FileHandle, error) {
	data, err := os.ReadFile(s.handlePath(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read handle sidecar: %w", err)
	}

	var h FileHandle
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode handle sidecar: %w", err)
	}
	return &h, nil
}

func (s *DirectoryStore) ReadFileBatch(ctx context.Context, keys []string) ([]*FileHandle, error) {
	results := make([]*FileHandle, len(keys))
	for i, key := range keys {
		h, err := s.ReadFile(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results[i] = h
	}
	return results, nil
}

// listKeys returns every stored key in sorted order.
func (s *DirectoryStore) listKeys() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.cfg.DataDir, "handles"))
	if err != nil {
		return nil, fmt.Errorf("read handles dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok {
			continue
		}
		key, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DirectoryStore) SearchFiles(ctx context.Context, prefix, pageKey string, limit int) (*FileHandlePage, error) {
	if limit < 1 {
		limit = 100
	}

	keys, err := s.listKeys()
	if err != nil {
		return nil, err
	}

	var page FileHandlePage
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || key <= pageKey {
			continue
		}
		if len(page.Items) == limit {
			page.NextPageKey = page.Items[limit-1].Key
			break
		}
		h, err := s.ReadFile(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *h)
	}
	return &page, nil
}

func (s *DirectoryStore) CountFiles(ctx context.Context, prefix string) (int, error) {
	keys, err := s.listKeys()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count, nil
}

func (s *DirectoryStore) DeleteFile(ctx context.Context, key string) (bool, error) {
	if err := os.Remove(s.handlePath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove handle sidecar: %w", err)
	}
	if err := os.Remove(s.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove object payload: %w", err)
	}

	filesDeleted.Inc()
	return true, nil
}

func (s *DirectoryStore) OpenContent(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	f, err := os.Open(s.objectPath(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open object payload: %w", err)
	}
	return f, nil
}

func (s *DirectoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.cfg.DataDir, "uploads"))
	if err != nil {
		return 0, fmt.Errorf("read uploads dir: %w", err)
	}

	reaped := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.uploadDir(entry.Name()), "upload.json"))
		if err != nil {
			continue
		}
		var m uploadManifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.Upload.ExpireAt.After(now.UTC()) {
			continue
		}

		existed, err := s.AbortUpload(ctx, entry.Name())
		if err != nil {
			return reaped, err
		}
		if existed {
			reaped++
		}
	}
	return reaped, nil
}
