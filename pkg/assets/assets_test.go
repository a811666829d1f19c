package assets

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/runstream/runstream/internal/model"
)

func ref(root, relPath string) model.DatumRef {
	return model.DatumRef{
		DatumID: "R1/0",
		Resource: model.Resource{
			UID:          "R1",
			Spec:         "AD_HDF5",
			Root:         root,
			ResourcePath: relPath,
		},
	}
}

func TestLocalLocatorPath(t *testing.T) {
	tests := []struct {
		name    string
		rootMap map[string]string
		ref     model.DatumRef
		want    string
		wantErr bool
	}{
		{
			name: "unmapped root used as-is",
			ref:  ref("/data", "scan/img.h5"),
			want: filepath.Join("/data", "scan", "img.h5"),
		},
		{
			name:    "root remapped",
			rootMap: map[string]string{"/data": "/mnt/archive"},
			ref:     ref("/data", "scan/img.h5"),
			want:    filepath.Join("/mnt/archive", "scan", "img.h5"),
		},
		{
			name:    "other roots untouched",
			rootMap: map[string]string{"/data": "/mnt/archive"},
			ref:     ref("/other", "img.h5"),
			want:    filepath.Join("/other", "img.h5"),
		},
		{
			name:    "missing resource path",
			ref:     ref("/data", ""),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLocalLocator(tt.rootMap)
			got, err := l.Path(tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Path = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Path: %v", err)
			}
			if got != tt.want {
				t.Errorf("Path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocalLocatorOpen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "img.h5"), []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLocalLocator(map[string]string{"/data": dir})
	r := ref("/data", "img.h5")

	ok, err := l.Exists(r)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, err := l.Open(context.Background(), r)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("read %q", data)
	}

	ok, err = l.Exists(ref("/data", "missing.h5"))
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
}

func TestS3LocatorPath(t *testing.T) {
	l := &S3Locator{
		cfg:     S3Config{Bucket: "assets", KeyPrefix: "beamline"},
		rootMap: map[string]string{"/data": "archive"},
	}

	got, err := l.Path(ref("/data", "scan/img.h5"))
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if got != "beamline/archive/scan/img.h5" {
		t.Errorf("Path = %q", got)
	}

	// Leading slash from an unmapped absolute root is trimmed.
	got, err = l.Path(ref("/raw", "img.h5"))
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if got != "beamline/raw/img.h5" {
		t.Errorf("Path = %q", got)
	}
}
