package depot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// S3Store is a FileStore that delegates everything to an S3-compatible
// service through the MinIO Core multipart API. Upload and part ids are
// composite tokens carrying the S3 upload id and object key, so the
// store itself holds no session state.
type S3Store struct {
	cfg    Config
	core   *minio.Core
	bucket string
}

var _ FileStore = (*S3Store)(nil)

// NewS3Store wraps an existing MinIO core client targeting one bucket.
func NewS3Store(core *minio.Core, bucket string, cfg Config) (*S3Store, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		return nil, errors.New("bucket must not be empty")
	}
	return &S3Store{cfg: cfg, core: core, bucket: bucket}, nil
}

func (s *S3Store) Close() error {
	return nil
}

// uploadToken packs the S3 upload id and key into one opaque id.
func uploadToken(s3UploadID, key string) string {
	return s3UploadID + "|" + url.QueryEscape(key)
}

func parseUploadToken(token string) (s3UploadID, key string, err error) {
	id, escapedKey, ok := strings.Cut(token, "|")
	if !ok {
		return "", "", fmt.Errorf("upload %s: %w", token, ErrNotFound)
	}
	key, err = url.QueryUnescape(escapedKey)
	if err != nil {
		return "", "", fmt.Errorf("upload %s: %w", token, ErrNotFound)
	}
	return id, key, nil
}

// partToken packs the part number on top of an upload token.
func partToken(s3UploadID string, partNumber int, key string) string {
	return fmt.Sprintf("%s|%d|%s", s3UploadID, partNumber, url.QueryEscape(key))
}

func parsePartToken(token string) (s3UploadID string, partNumber int, key string, err error) {
	fields := strings.SplitN(token, "|", 3)
	if len(fields) != 3 {
		return "", 0, "", fmt.Errorf("part %s: %w", token, ErrNotFound)
	}
	partNumber, err = strconv.Atoi(fields[1])
	if err != nil || partNumber < 1 {
		return "", 0, "", fmt.Errorf("part %s: %w", token, ErrNotFound)
	}
	key, err = url.QueryUnescape(fields[2])
	if err != nil {
		return "", 0, "", fmt.Errorf("part %s: %w", token, ErrNotFound)
	}
	return fields[0], partNumber, key, nil
}

func (s *S3Store) BeginUpload(ctx context.Context, key, contentType string, sizeInBytes int64) (*Upload, []UploadPart, error) {
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

	s3UploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, nil, fmt.Errorf("initiate multipart upload: %w", err)
	}

	numParts := 1
	if sizeInBytes > 0 {
		numParts = int((sizeInBytes + s.cfg.MaxPartSize - 1) / s.cfg.MaxPartSize)
	}

	now := time.Now().UTC()
	upload := &Upload{
		ID:          uploadToken(s3UploadID, key),
		Key:         key,
		ContentType: contentType,
		SizeInBytes: sizeInBytes,
		ExpireAt:    now.Add(s.cfg.UploadExpireIn),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	parts := make([]UploadPart, 0, numParts)
	for n := 1; n <= numParts; n++ {
		id := partToken(s3UploadID, n, key)
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

func (s *S3Store) SavePart(ctx context.Context, partID string, src io.Reader) (*UploadPart, error) {
	s3UploadID, partNumber, key, err := parsePartToken(partID)
	if err != nil {
		return nil, err
	}

	// PutObjectPart needs the part size up front, so the body is staged
	// in memory. Part size is capped by configuration.
	data, err := io.ReadAll(io.LimitReader(src, s.cfg.MaxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("read part body: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxPartSize {
		return nil, fmt.Errorf("part exceeds maximum size %d: %w", s.cfg.MaxPartSize, ErrCapacityExceeded)
	}

	objPart, err := s.core.PutObjectPart(ctx, s.bucket, key, s3UploadID, partNumber, bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return nil, s.mapError(fmt.Errorf("put object part %d: %w", partNumber, err), err)
	}

	now := time.Now().UTC()
	return &UploadPart{
		ID:          partID,
		UploadID:    uploadToken(s3UploadID, key),
		PartNumber:  objPart.PartNumber,
		SizeInBytes: objPart.Size,
		UploadURL:   fmt.Sprintf("/data/%s-part/%s", s.cfg.Name, partID),
		UpdatedAt:   now,
	}, nil
}

func (s *S3Store) FinishUpload(ctx context.Context, uploadID string) (*FileHandle, error) {
	s3UploadID, key, err := parseUploadToken(uploadID)
	if err != nil {
		return nil, err
	}

	// Recover the uploaded parts from the service; slots that were never
	// saved simply do not appear.
	var completeParts []minio.CompletePart
	var size int64
	marker := 0
	for {
		result, err := s.core.ListObjectParts(ctx, s.bucket, key, s3UploadID, marker, 1000)
		if err != nil {
			return nil, s.mapError(fmt.Errorf("list object parts: %w", err), err)
		}
		for _, p := range result.ObjectParts {
			completeParts = append(completeParts, minio.CompletePart{
				PartNumber: p.PartNumber,
				ETag:       p.ETag,
			})
			size += p.Size
		}
		if !result.IsTruncated {
			break
		}
		marker = result.NextPartNumberMarker
	}

	info, err := s.core.CompleteMultipartUpload(ctx, s.bucket, key, s3UploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return nil, s.mapError(fmt.Errorf("complete multipart upload: %w", err), err)
	}

	uploadsFinished.Inc()
	return &FileHandle{
		Key:         key,
		SizeInBytes: size,
		ETag:        strings.Trim(info.ETag, "\""),
		DownloadURL: fmt.Sprintf("/data/%s/%s", s.cfg.Name, key),
		UploadedAt:  time.Now().UTC(),
		StreamID:    s3UploadID,
	}, nil
}

func (s *S3Store) AbortUpload(ctx context.Context, uploadID string) (bool, error) {
	s3UploadID, key, err := parseUploadToken(uploadID)
	if err != nil {
		return false, nil
	}

	if err := s.core.AbortMultipartUpload(ctx, s.bucket, key, s3UploadID); err != nil {
		if isNoSuchUpload(err) {
			return false, nil
		}
		return false, fmt.Errorf("abort multipart upload: %w", err)
	}

	uploadsAborted.Inc()
	return true, nil
}

func (s *S3Store) ReadFile(ctx context.Context, key string) (*FileHandle, error) {
	info, err := s.core.Client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.mapError(fmt.Errorf("stat object %s: %w", key, err), err)
	}
	return s.handleFromInfo(info), nil
}

func (s *S3Store) ReadFileBatch(ctx context.Context, keys []string) ([]*FileHandle, error) {
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

func (s *S3Store) SearchFiles(ctx context.Context, prefix, pageKey string, limit int) (*FileHandlePage, error) {
	if limit < 1 {
		limit = 100
	}

	var page FileHandlePage
	for info := range s.core.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: pageKey,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		if len(page.Items) == limit {
			page.NextPageKey = page.Items[limit-1].Key
			break
		}
		page.Items = append(page.Items, *s.handleFromInfo(info))
	}
	return &page, nil
}

func (s *S3Store) CountFiles(ctx context.Context, prefix string) (int, error) {
	count := 0
	for info := range s.core.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return 0, fmt.Errorf("list objects: %w", info.Err)
		}
		count++
	}
	return count, nil
}

func (s *S3Store) DeleteFile(ctx context.Context, key string) (bool, error) {
	if _, err := s.ReadFile(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.core.Client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove object %s: %w", key, err)
	}

	filesDeleted.Inc()
	return true, nil
}

func (s *S3Store) OpenContent(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	obj, err := s.core.Client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(fmt.Errorf("get object %s: %w", key, err), err)
	}
	// Stat eagerly so a missing key fails here, not on first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.mapError(fmt.Errorf("get object %s: %w", key, err), err)
	}
	return obj, nil
}

func (s *S3Store) handleFromInfo(info minio.ObjectInfo) *FileHandle {
	return &FileHandle{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeInBytes: info.Size,
		ETag:        strings.Trim(info.ETag, "\""),
		DownloadURL: fmt.Sprintf("/data/%s/%s", s.cfg.Name, info.Key),
		UploadedAt:  info.LastModified.UTC(),
	}
}

// mapError translates MinIO error responses into the store's taxonomy,
// falling back to the wrapped error.
func (s *S3Store) mapError(wrapped, cause error) error {
	resp := minio.ToErrorResponse(cause)
	switch resp.Code {
	case "NoSuchKey", "NoSuchUpload", "NotFound":
		return fmt.Errorf("%s: %w", resp.Code, ErrNotFound)
	case "EntityTooLarge":
		return fmt.Errorf("%s: %w", resp.Code, ErrSizeExceeded)
	}
	return wrapped
}

func isNoSuchUpload(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchUpload" || resp.Code == "NotFound"
}
