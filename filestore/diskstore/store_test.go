package diskstore

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bkio/crosscloudkit/filestore"
	"github.com/bkio/crosscloudkit/result"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if out := s.UploadFile(ctx, filestore.TextSource("hello world"), "b1", "a/b.txt"); !out.IsSuccessful {
		t.Fatalf("upload: %s", out.ErrorMessage)
	}
	var buf bytes.Buffer
	if out := s.DownloadFile(ctx, "b1", "a/b.txt", &buf); !out.IsSuccessful {
		t.Fatalf("download: %s", out.ErrorMessage)
	}
	if buf.String() != "hello world" {
		t.Errorf("got %q", buf.String())
	}
}

func TestDownloadMissingObjectNotFound(t *testing.T) {
	s := newTestStore(t)
	var buf bytes.Buffer
	out := s.DownloadFile(context.Background(), "b1", "missing", &buf)
	if out.IsSuccessful || out.Kind != result.KindNotFound {
		t.Fatalf("expected not-found, got %+v", out)
	}
}

func TestFileExistsAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.UploadFile(ctx, filestore.TextSource("x"), "b1", "k")

	if out := s.FileExists(ctx, "b1", "k"); !out.IsSuccessful || !out.Data {
		t.Fatalf("expected exists=true, got %+v", out)
	}
	if out := s.DeleteFile(ctx, "b1", "k"); !out.IsSuccessful {
		t.Fatalf("delete: %s", out.ErrorMessage)
	}
	if out := s.FileExists(ctx, "b1", "k"); !out.IsSuccessful || out.Data {
		t.Fatalf("expected exists=false after delete, got %+v", out)
	}
}

func TestListFilesPrefixAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keys := []string{"logs/a", "logs/b", "logs/c", "other/d"}
	for _, k := range keys {
		if out := s.UploadFile(ctx, filestore.TextSource("x"), "b1", k); !out.IsSuccessful {
			t.Fatalf("upload %s: %s", k, out.ErrorMessage)
		}
	}

	out := s.ListFiles(ctx, "b1", filestore.ListOptions{Prefix: "logs/", MaxResults: 2})
	if !out.IsSuccessful {
		t.Fatalf("list: %s", out.ErrorMessage)
	}
	if len(out.Data.FileKeys) != 2 || out.Data.NextContinuationToken == nil {
		t.Fatalf("expected first page of 2 with continuation, got %+v", out.Data)
	}

	next := s.ListFiles(ctx, "b1", filestore.ListOptions{Prefix: "logs/", MaxResults: 2, ContinuationToken: *out.Data.NextContinuationToken})
	if !next.IsSuccessful || len(next.Data.FileKeys) != 1 || next.Data.NextContinuationToken != nil {
		t.Fatalf("expected final page of 1, got %+v", next.Data)
	}
	for _, k := range next.Data.FileKeys {
		if !strings.HasPrefix(k, "logs/") {
			t.Errorf("unexpected key %q in prefix-filtered list", k)
		}
	}
}

func TestSignedURLRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.UploadFile(ctx, filestore.TextSource("x"), "b1", "k")

	signed := s.SignedURL(ctx, "b1", "k", time.Minute)
	if !signed.IsSuccessful {
		t.Fatalf("signed url: %s", signed.ErrorMessage)
	}
	claims := s.VerifySignedURL(ctx, signed.Data)
	if !claims.IsSuccessful || claims.Data.Bucket != "b1" || claims.Data.ObjectKey != "k" {
		t.Fatalf("verify: %+v", claims)
	}
}

func TestSignedURLRejectsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.UploadFile(ctx, filestore.TextSource("x"), "b1", "k")

	signed := s.SignedURL(ctx, "b1", "k", -time.Second)
	if !signed.IsSuccessful {
		t.Fatalf("signed url: %s", signed.ErrorMessage)
	}
	if out := s.VerifySignedURL(ctx, signed.Data); out.IsSuccessful {
		t.Errorf("expected expired signed URL to fail verification")
	}
}

func TestSignedURLRejectsForeignToken(t *testing.T) {
	s := newTestStore(t)
	if out := s.VerifySignedURL(context.Background(), "not-a-diskstore-url"); out.IsSuccessful {
		t.Errorf("expected rejection of non-diskstore URL")
	}
}
