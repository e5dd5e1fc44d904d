package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigFromEnv(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		host     string
		want     ObjectStorageMode
		inferred bool
		errCode  ObjectStorageConfigErrorCode
	}{
		{name: "default", want: ObjectStorageModeGCS},
		{name: "explicit gcs ignores host", mode: "gcs", host: "http://fake-gcs:4443", want: ObjectStorageModeGCS},
		{name: "explicit emulator", mode: "GCS_EMULATOR", host: "http://fake-gcs:4443", want: ObjectStorageModeGCSEmulator},
		{name: "inferred emulator", host: "http://fake-gcs:4443", want: ObjectStorageModeGCSEmulator, inferred: true},
		{name: "invalid mode", mode: "local", errCode: ObjectStorageConfigErrorInvalidMode},
		{name: "missing host", mode: "gcs_emulator", errCode: ObjectStorageConfigErrorMissingEmulatorHost},
		{name: "relative host", mode: "gcs_emulator", host: "fake-gcs:4443", errCode: ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
			t.Setenv("STORAGE_EMULATOR_HOST", tc.host)

			cfg, err := ResolveObjectStorageConfigFromEnv()
			if tc.errCode != "" {
				var cfgErr *ObjectStorageConfigError
				if !errors.As(err, &cfgErr) || cfgErr.Code != tc.errCode {
					t.Fatalf("error: want code %q got %v", tc.errCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveObjectStorageConfigFromEnv: %v", err)
			}
			if cfg.Mode != tc.want {
				t.Fatalf("mode: want=%q got=%q", tc.want, cfg.Mode)
			}
			if cfg.Inferred != tc.inferred {
				t.Fatalf("inferred: want=%v got=%v", tc.inferred, cfg.Inferred)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	cases := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"sessions", "abc", "artifacts.json"}, "sessions/abc/artifacts.json"},
		{"/archive/", []string{"sessions/", " abc ", "", "artifacts.json"}, "archive/sessions/abc/artifacts.json"},
		{"archive", nil, "archive"},
	}
	for _, tc := range cases {
		if got := ObjectKey(tc.prefix, tc.parts...); got != tc.want {
			t.Fatalf("ObjectKey(%q, %v): want=%q got=%q", tc.prefix, tc.parts, tc.want, got)
		}
	}
}
