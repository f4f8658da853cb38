// Package filestore defines the bucket/object store contract of spec §4.4:
// upload, download, paginated list, delete, signed URLs, and presence.
package filestore

import (
	"context"
	"io"
	"time"

	"github.com/bkio/crosscloudkit/result"
)

// Source is what UploadFile accepts: either raw UTF-8 text or a seekable
// byte stream with a declared length (spec §4.4).
type Source struct {
	Text   string    // non-empty when uploading a UTF-8 string directly
	Reader io.Reader // non-nil when uploading from a stream
	Size   int64     // declared length of Reader; ignored when Text is set
}

func TextSource(s string) Source { return Source{Text: s} }

func StreamSource(r io.Reader, size int64) Source { return Source{Reader: r, Size: size} }

// ListPage is one page of ListFiles results (spec §4.4): stable under
// insertion, with NextContinuationToken nil once exhausted.
type ListPage struct {
	FileKeys              []string
	NextContinuationToken *string
}

// ListOptions configures ListFiles pagination and filtering.
type ListOptions struct {
	Prefix            string
	MaxResults        int
	ContinuationToken string
}

// SignedURLClaims identifies the object a previously issued signed URL
// grants time-limited access to.
type SignedURLClaims struct {
	Bucket    string
	ObjectKey string
}

// FileService is the blob/object store contract of spec §4.4. Only the
// operations the backup/restore core requires are modeled here (spec §4.4's
// own framing: "only the parts the backup core requires").
type FileService interface {
	UploadFile(ctx context.Context, src Source, bucket, objectKey string) result.Outcome[result.None]
	DownloadFile(ctx context.Context, bucket, objectKey string, sink io.Writer) result.Outcome[result.None]
	DeleteFile(ctx context.Context, bucket, objectKey string) result.Outcome[result.None]
	ListFiles(ctx context.Context, bucket string, opts ListOptions) result.Outcome[ListPage]
	FileExists(ctx context.Context, bucket, objectKey string) result.Outcome[bool]

	// SignedURL issues a time-limited, signature-verifiable URL for the
	// object; VerifySignedURL checks one produced by this same service.
	SignedURL(ctx context.Context, bucket, objectKey string, expiry time.Duration) result.Outcome[string]
	VerifySignedURL(ctx context.Context, signedURL string) result.Outcome[SignedURLClaims]

	// CleanupBucket is a best-effort purge, used in test teardown.
	CleanupBucket(ctx context.Context, bucket string) result.Outcome[result.None]
}
