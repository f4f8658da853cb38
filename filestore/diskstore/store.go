// Package diskstore is the local-disk reference FileService backend: each
// bucket is a subdirectory, each object a file, writes land via a temp file
// plus atomic rename so a reader never observes a partial object. Spec §1
// excludes production cloud-storage adapters (S3, GCS, Azure Blob) from this
// repo's scope, not the existence of a reference backend to exercise the
// backup/restore core against.
package diskstore

import (
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bkio/crosscloudkit/filestore"
	"github.com/bkio/crosscloudkit/result"
	"github.com/golang-jwt/jwt/v4"
	"github.com/karrick/godirwalk"
)

// Store is the local-disk FileService. Root holds one subdirectory per
// bucket; signed URLs are HMAC-signed JWTs over {bucket, object, exp}, valid
// only for SignedURL calls issued by this same Store (no HTTP server is
// exposed — VerifySignedURL is the sole consumer).
type Store struct {
	root   string
	secret []byte
	mu     sync.Mutex
}

// New constructs a diskstore rooted at dir; dir is created if absent. secret
// signs issued URLs; an empty secret generates a random one (valid only for
// this process's lifetime, matching a reference/test backend's needs).
func New(dir string, secret []byte) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	return &Store{root: dir, secret: secret}, nil
}

func (s *Store) bucketDir(bucket string) string { return filepath.Join(s.root, bucket) }

func (s *Store) objectPath(bucket, objectKey string) string {
	return filepath.Join(s.bucketDir(bucket), filepath.FromSlash(objectKey))
}

func (s *Store) UploadFile(ctx context.Context, src filestore.Source, bucket, objectKey string) result.Outcome[result.None] {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(objectKey) == "" {
		return result.Fail[result.None](result.KindInvalidInput, "bucket and objectKey are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := s.objectPath(bucket, objectKey)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	var writeErr error
	if src.Text != "" || src.Reader == nil {
		_, writeErr = tmp.WriteString(src.Text)
	} else {
		_, writeErr = io.CopyN(tmp, src.Reader, src.Size)
		if writeErr == io.EOF {
			writeErr = nil
		}
	}
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil {
		return result.Wrap[result.None](result.KindBackendError, writeErr)
	}
	if closeErr != nil {
		return result.Wrap[result.None](result.KindBackendError, closeErr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	cleanup = false
	return result.Ok(result.None{})
}

func (s *Store) DownloadFile(ctx context.Context, bucket, objectKey string, sink io.Writer) result.Outcome[result.None] {
	f, err := os.Open(s.objectPath(bucket, objectKey))
	if os.IsNotExist(err) {
		return result.Fail[result.None](result.KindNotFound, "object %s/%s not found", bucket, objectKey)
	}
	if err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	defer f.Close()
	if _, err := io.Copy(sink, f); err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	return result.Ok(result.None{})
}

func (s *Store) DeleteFile(ctx context.Context, bucket, objectKey string) result.Outcome[result.None] {
	err := os.Remove(s.objectPath(bucket, objectKey))
	if err != nil && !os.IsNotExist(err) {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	return result.Ok(result.None{})
}

func (s *Store) ListFiles(ctx context.Context, bucket string, opts filestore.ListOptions) result.Outcome[filestore.ListPage] {
	base := s.bucketDir(bucket)
	var all []string
	err := godirwalk.Walk(base, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(base, path)
			if relErr != nil {
				return relErr
			}
			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, opts.Prefix) {
				all = append(all, key)
			}
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction { return godirwalk.SkipNode },
	})
	if err != nil && !os.IsNotExist(err) {
		return result.Wrap[filestore.ListPage](result.KindBackendError, err)
	}
	sort.Strings(all)

	start := 0
	if opts.ContinuationToken != "" {
		for i, k := range all {
			if k > opts.ContinuationToken {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if opts.MaxResults > 0 && start+opts.MaxResults < end {
		end = start + opts.MaxResults
	}
	page := filestore.ListPage{FileKeys: append([]string{}, all[start:end]...)}
	if end < len(all) {
		tok := page.FileKeys[len(page.FileKeys)-1]
		page.NextContinuationToken = &tok
	}
	return result.Ok(page)
}

func (s *Store) FileExists(ctx context.Context, bucket, objectKey string) result.Outcome[bool] {
	_, err := os.Stat(s.objectPath(bucket, objectKey))
	if os.IsNotExist(err) {
		return result.Ok(false)
	}
	if err != nil {
		return result.Wrap[bool](result.KindBackendError, err)
	}
	return result.Ok(true)
}

type signedURLClaims struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`
	jwt.RegisteredClaims
}

func (s *Store) SignedURL(ctx context.Context, bucket, objectKey string, expiry time.Duration) result.Outcome[string] {
	if _, err := os.Stat(s.objectPath(bucket, objectKey)); os.IsNotExist(err) {
		return result.Fail[string](result.KindNotFound, "object %s/%s not found", bucket, objectKey)
	}
	claims := signedURLClaims{
		Bucket:    bucket,
		ObjectKey: objectKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return result.Wrap[string](result.KindBackendError, err)
	}
	return result.Ok("diskstore://" + signed)
}

func (s *Store) VerifySignedURL(ctx context.Context, signedURL string) result.Outcome[filestore.SignedURLClaims] {
	raw := strings.TrimPrefix(signedURL, "diskstore://")
	if raw == signedURL {
		return result.Fail[filestore.SignedURLClaims](result.KindInvalidInput, "not a diskstore signed URL")
	}
	claims := &signedURLClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return result.Fail[filestore.SignedURLClaims](result.KindPreconditionFailed, "signed URL invalid or expired: %v", err)
	}
	return result.Ok(filestore.SignedURLClaims{Bucket: claims.Bucket, ObjectKey: claims.ObjectKey})
}

func (s *Store) CleanupBucket(ctx context.Context, bucket string) result.Outcome[result.None] {
	if err := os.RemoveAll(s.bucketDir(bucket)); err != nil {
		return result.Wrap[result.None](result.KindBackendError, err)
	}
	return result.Ok(result.None{})
}

var _ filestore.FileService = (*Store)(nil)
