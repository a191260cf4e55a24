package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobrunner/geosplit/internal/domain"
	"github.com/jobrunner/geosplit/internal/ports/output"
)

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/data/dem.tif", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "reader" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		w.Header().Set("Content-Length", "10")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte("tiff bytes"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPStorageStat(t *testing.T) {
	server := newFileServer(t)
	storage := NewHTTPStorage(HTTPConfig{Username: "reader", Password: "secret"})

	obj, err := storage.Stat(context.Background(), server.URL+"/data/dem.tif")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if obj.Size != 10 {
		t.Errorf("Size = %d, want 10", obj.Size)
	}
	if obj.ETag != "abc123" {
		t.Errorf("ETag = %q, want abc123", obj.ETag)
	}
	if want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix(); obj.LastModified != want {
		t.Errorf("LastModified = %d, want %d", obj.LastModified, want)
	}
}

func TestHTTPStorageErrors(t *testing.T) {
	server := newFileServer(t)

	tests := []struct {
		name         string
		cfg          HTTPConfig
		path         string
		wantNotFound bool
	}{
		{"missing", HTTPConfig{Username: "reader", Password: "secret"}, "/data/missing.tif", true},
		{"unauthorized", HTTPConfig{}, "/data/dem.tif", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := NewHTTPStorage(tt.cfg)
			_, err := storage.Stat(context.Background(), server.URL+tt.path)
			if err == nil {
				t.Fatal("Stat() should fail")
			}
			if errors.Is(err, domain.ErrNotFound) != tt.wantNotFound {
				t.Errorf("Stat() error = %v, not found = %v", err, tt.wantNotFound)
			}
			exists, err := storage.Exists(context.Background(), server.URL+tt.path)
			if err != nil || exists {
				t.Errorf("Exists() = %v, %v, want false", exists, err)
			}
		})
	}
}

func TestHTTPStorageDownload(t *testing.T) {
	server := newFileServer(t)
	storage := NewHTTPStorage(HTTPConfig{Username: "reader", Password: "secret"})
	dest := filepath.Join(t.TempDir(), "nested", "dem.tif")

	if err := storage.Download(context.Background(), server.URL+"/data/dem.tif", dest); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	content, err := os.ReadFile(dest) //#nosec G304 -- test file
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "tiff bytes" {
		t.Errorf("content = %q", content)
	}

	reader, err := storage.GetReader(context.Background(), server.URL+"/data/dem.tif")
	if err != nil {
		t.Fatalf("GetReader() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	body, _ := io.ReadAll(reader)
	if string(body) != "tiff bytes" {
		t.Errorf("GetReader() content = %q", body)
	}
}

func TestResolverOverHTTP(t *testing.T) {
	server := newFileServer(t)
	r, err := NewResolver(ResolverConfig{}, map[string]output.ObjectStorage{
		"http": NewHTTPStorage(HTTPConfig{Username: "reader", Password: "secret"}),
	}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	obj, err := r.Resolve(context.Background(), server.URL+"/data/dem.tif")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if filepath.Base(obj.Path) != "dem.tif" || obj.Size != 10 {
		t.Errorf("Resolve() = %+v", obj)
	}
}
