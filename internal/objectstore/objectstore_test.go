package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAWSEndpointForRegion tests the region table.
func TestAWSEndpointForRegion(t *testing.T) {
	endpoint, err := AWSEndpointForRegion("us-west-2")
	require.NoError(t, err)
	assert.Equal(t, "s3.us-west-2.amazonaws.com", endpoint)

	_, err = AWSEndpointForRegion("mars-1")
	assert.Error(t, err)
}

// TestIsValidR2AccountID tests account id validation.
func TestIsValidR2AccountID(t *testing.T) {
	assert.True(t, IsValidR2AccountID("0123456789abcdef0123456789ABCDEF"))
	assert.False(t, IsValidR2AccountID("short"))
	assert.False(t, IsValidR2AccountID("0123456789abcdef0123456789abcdeg"))
}

// TestResolve tests provider presets.
func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want resolved
	}{
		{"aws default region", S3Config{Provider: ProviderAWS}, resolved{"https://s3.amazonaws.com", "us-east-1", false}},
		{"aws region", S3Config{Provider: ProviderAWS, Region: "eu-west-1"}, resolved{"https://s3.eu-west-1.amazonaws.com", "eu-west-1", false}},
		{"minio adds scheme", S3Config{Provider: ProviderMinIO, Endpoint: "localhost:9000/"}, resolved{"http://localhost:9000", "us-east-1", true}},
		{"minio ssl", S3Config{Provider: ProviderMinIO, Endpoint: "minio.local", UseSSL: true}, resolved{"https://minio.local", "us-east-1", true}},
		{"r2", S3Config{Provider: ProviderR2, AccountID: "abc"}, resolved{"https://abc.r2.cloudflarestorage.com", "auto", false}},
		{"custom", S3Config{Provider: ProviderCustom, Endpoint: "https://storage.example.com", Region: "x"}, resolved{"https://storage.example.com", "x", true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolve(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := resolve(S3Config{Provider: ProviderMinIO})
	assert.Error(t, err)
	_, err = resolve(S3Config{Provider: ProviderR2})
	assert.Error(t, err)
	_, err = resolve(S3Config{Provider: "ftp"})
	assert.Error(t, err)
}

type recordedPut struct {
	method      string
	path        string
	contentType string
}

// TestS3Store_Upload tests PutObject against a fake path-style endpoint.
func TestS3Store_Upload(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{r.Method, r.URL.Path, r.Header.Get("Content-Type")})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Config{
		Provider:  ProviderMinIO,
		Bucket:    "assessment-photos",
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	err = store.Upload(context.Background(), "sub-1/T-1/p1-original.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 1)
	assert.Equal(t, http.MethodPut, puts[0].method)
	assert.Equal(t, "/assessment-photos/sub-1/T-1/p1-original.jpg", puts[0].path)
	assert.Equal(t, "image/jpeg", puts[0].contentType)
}

// TestS3Store_UploadError tests that a server error surfaces.
func TestS3Store_UploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Config{
		Provider: ProviderCustom, Bucket: "b", Endpoint: srv.URL, AccessKey: "k", SecretKey: "s",
	})
	require.NoError(t, err)

	err = store.Upload(context.Background(), "x.jpg", []byte("x"), "image/jpeg")
	assert.Error(t, err)
}

// TestS3Store_PublicURL tests URL shapes.
func TestS3Store_PublicURL(t *testing.T) {
	ctx := context.Background()

	pathStyle, err := NewS3Store(ctx, S3Config{Provider: ProviderMinIO, Bucket: "photos", Endpoint: "localhost:9000", AccessKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/photos/a/b%20c.jpg", pathStyle.PublicURL("a/b c.jpg"))

	vhost, err := NewS3Store(ctx, S3Config{Provider: ProviderAWS, Region: "us-west-2", Bucket: "photos", AccessKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://photos.s3.us-west-2.amazonaws.com/a.jpg", vhost.PublicURL("a.jpg"))

	cdn, err := NewS3Store(ctx, S3Config{Provider: ProviderAWS, Bucket: "photos", AccessKey: "k", PublicBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", cdn.PublicURL("a.jpg"))

	_, err = NewS3Store(ctx, S3Config{Provider: ProviderAWS})
	assert.Error(t, err)
}

// TestMemoryStore tests the in-process store and failure injection.
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("https://assets.test/")

	require.NoError(t, m.Upload(ctx, "a/original.jpg", []byte("x"), "image/jpeg"))
	obj, ok := m.Get("a/original.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("x"), obj.Data)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, "https://assets.test/a/original.jpg", m.PublicURL("a/original.jpg"))

	boom := errors.New("bucket unavailable")
	m.FailOn("thumbnail", boom)
	assert.ErrorIs(t, m.Upload(ctx, "a/thumbnail.jpg", []byte("y"), "image/jpeg"), boom)
	_, ok = m.Get("a/thumbnail.jpg")
	assert.False(t, ok)

	m.FailOn("thumbnail", nil)
	require.NoError(t, m.Upload(ctx, "a/thumbnail.jpg", []byte("y"), "image/jpeg"))
	assert.Equal(t, 3, m.Uploads())
	assert.Len(t, m.Paths(), 2)
}
