package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"dbkit/internal/blob/core"
)

// pagingTransport extends the lite mock with a paginated ListObjectsV2 so the
// continuation-token loop gets exercised.
type pagingTransport struct {
	inner mockTransport
}

func (p *pagingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		prefix := req.URL.Query().Get("prefix")
		cont := req.URL.Query().Get("continuation-token")
		var keys []string
		for k := range p.inner.state {
			if prefix == "" || strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("<?xml version=\"1.0\"?><ListBucketResult>")
		if cont == "" && len(keys) > 1 {
			b.WriteString("<IsTruncated>true</IsTruncated><NextContinuationToken>tok123</NextContinuationToken>")
			keys = keys[:1]
		} else {
			b.WriteString("<IsTruncated>false</IsTruncated>")
			if cont != "" && len(keys) > 1 {
				keys = keys[1:]
			}
		}
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(p.inner.state[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(b.String())), Header: http.Header{"Content-Type": {"application/xml"}}}, nil
	}
	return p.inner.RoundTrip(req)
}

func newPagingMockStore(t *testing.T) *Store {
	t.Helper()
	rt := &pagingTransport{inner: mockTransport{state: make(map[string]mockObject)}}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("cfg: %v", err)
	}
	client := awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
	})
	return &Store{client: client, bucket: "test-bucket", presign: awsS3.NewPresignClient(client)}
}

func TestStore_MockedBasicFlow(t *testing.T) {
	store := newPagingMockStore(t)
	ctx := context.Background()
	info, err := store.Put(ctx, "archive/items/1-2.ndjson", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "archive/items/1-2.ndjson" || info.ContentType != "application/x-ndjson" || info.Size < 5 {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "archive/items/1-2.ndjson", bytes.NewReader([]byte("ignored")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}
	if _, err := store.Head(ctx, "archive/items/1-2.ndjson"); err != nil {
		t.Fatalf("head: %v", err)
	}
	_, rc, err := store.Get(ctx, "archive/items/1-2.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", data)
	}
	if list, err := store.List(ctx, "archive/"); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	if url, err := store.PresignURL(ctx, "archive/items/1-2.ndjson", core.SignedURLOptions{}); err != nil || url == "" {
		t.Fatalf("presign: %v %q", err, url)
	}
	if ok, err := store.Delete(ctx, "archive/items/1-2.ndjson"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

func TestStore_ListPaginates(t *testing.T) {
	store := newPagingMockStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "k1.txt", bytes.NewReader([]byte("body")), core.PutOptions{}); err != nil {
		t.Fatalf("put1: %v", err)
	}
	if _, err := store.Put(ctx, "k2.txt", bytes.NewReader([]byte("body2")), core.PutOptions{}); err != nil {
		t.Fatalf("put2: %v", err)
	}
	list, err := store.List(ctx, "k")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two items across pages: %v %+v", err, list)
	}
	if list[0].Key != "k1.txt" || list[1].Key != "k2.txt" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if empty, err := store.List(ctx, "no-such-prefix/"); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, empty)
	}
}

func TestStore_ErrorPaths(t *testing.T) {
	store := newPagingMockStore(t)
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); err == nil {
		t.Fatalf("expected head error for missing key")
	}
	if _, _, err := store.Get(ctx, "nope"); err == nil {
		t.Fatalf("expected get error for missing key")
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); err == nil {
		t.Fatalf("expected presign unsupported error")
	}
}

func TestStore_PresignCustomExpiry(t *testing.T) {
	store := newPagingMockStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "k.txt", bytes.NewReader([]byte("body")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if url, err := store.PresignURL(ctx, "k.txt", core.SignedURLOptions{Expiry: 30 * time.Second}); err != nil || url == "" {
		t.Fatalf("presign custom: %v %q", err, url)
	}
}

func TestNew_StaticCredentials(t *testing.T) {
	s, err := New(context.Background(), Config{
		Bucket:          "bkt",
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestFromEnv_Overlays(t *testing.T) {
	t.Setenv("DBKIT_BLOB_S3_BUCKET", "env-bucket")
	t.Setenv("DBKIT_BLOB_S3_REGION", "eu-west-1")
	t.Setenv("DBKIT_BLOB_S3_ENDPOINT", "https://minio.local")
	t.Setenv("DBKIT_BLOB_S3_PATH_STYLE", "TRUE")
	cfg := FromEnv(Config{Bucket: "from-config", AccessKeyID: "AKIA"})
	if cfg.Bucket != "env-bucket" || cfg.Region != "eu-west-1" || cfg.Endpoint != "https://minio.local" || !cfg.PathStyle {
		t.Fatalf("unexpected overlay: %+v", cfg)
	}
	if cfg.AccessKeyID != "AKIA" {
		t.Fatalf("untouched fields must survive: %+v", cfg)
	}
}

func TestOpenFromEnv(t *testing.T) {
	t.Setenv("DBKIT_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected error without bucket")
	}
	t.Setenv("DBKIT_BLOB_S3_BUCKET", "env-bucket")
	t.Setenv("DBKIT_BLOB_S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	if _, err := OpenFromEnv(context.Background()); err != nil {
		t.Fatalf("OpenFromEnv: %v", err)
	}
}

func TestObjectInfo_NilFields(t *testing.T) {
	store := newPagingMockStore(t)
	info := store.objectInfo("k", 10, nil, aws.String("\"etagval\""), map[string]string{"x": "y"}, nil)
	if info.ETag != "etagval" || info.ContentType != "" || info.Key != "k" || info.Size != 10 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.LastModified.IsZero() {
		t.Fatalf("expected fallback timestamp")
	}
}

func TestNewMockForTests_Flow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if store.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
	if _, err := store.Put(ctx, "a.txt", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, rc, err := store.Get(ctx, "a.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "hello" {
		t.Fatalf("mock body mismatch: %q", b)
	}
	if _, err := store.Head(ctx, "a.txt"); err != nil {
		t.Fatalf("head: %v", err)
	}
	if list, err := store.List(ctx, ""); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if _, err := store.PresignURL(ctx, "a.txt", core.SignedURLOptions{}); err != nil {
		t.Fatalf("presign: %v", err)
	}
	if ok, err := store.Delete(ctx, "a.txt"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

func TestMockTransport_Unsupported(t *testing.T) {
	rt := &mockTransport{state: make(map[string]mockObject)}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	if _, ok := decodeAWSChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected failure for plain body")
	}
	if _, ok := decodeAWSChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch should fail")
	}
	if b, ok := decodeAWSChunked([]byte("5\r\nhello\r\n0\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected hello, got %q %v", b, ok)
	}
}
