package main

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestDecodeDataURL(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0} // jpeg magic
	encoded := base64.StdEncoding.EncodeToString(payload)

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"bare base64", encoded, payload, false},
		{"data url prefix", "data:image/jpeg;base64," + encoded, payload, false},
		{"empty", "", nil, true},
		{"prefix with empty payload", "data:image/jpeg;base64,", nil, true},
		{"invalid base64", "!!!not-base64!!!", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDataURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("decoded = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDateParam(t *testing.T) {
	got, err := parseDateParam("2026-08-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseDateParam = %s, want %s", got, want)
	}

	if _, err := parseDateParam("31/08/2026"); err == nil {
		t.Error("expected error for wrong format")
	}

	today, err := parseDateParam("")
	if err != nil {
		t.Fatalf("unexpected error for empty param: %v", err)
	}
	if today.Hour() != 0 || today.Minute() != 0 {
		t.Errorf("default date %s is not midnight", today)
	}
}
