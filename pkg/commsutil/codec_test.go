package commsutil

import (
	"testing"
)

type codecSample struct {
	Peer     string            `json:"peer"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Features []string          `json:"features"`
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    string
		wantErr bool
	}{
		{
			name:  "struct with omitted map",
			input: codecSample{Peer: "alice@example.com", Features: []string{"a"}},
			want:  `{"peer":"alice@example.com","features":["a"]}`,
		},
		{
			name:  "nil",
			input: nil,
			want:  "null",
		},
		{
			name:    "channel is not serializable",
			input:   make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("commsutil:codec_test - expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}
			if got := string(data); got != tt.want {
				t.Errorf("commsutil:codec_test - EncodePayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	var sample codecSample
	err := DecodePayload([]byte(`{"peer":"bob","attrs":{"k":"v"},"features":["x","y"]}`), &sample)
	if err != nil {
		t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
	}
	if sample.Peer != "bob" || sample.Attrs["k"] != "v" || len(sample.Features) != 2 {
		t.Errorf("commsutil:codec_test - unexpected decode result: %+v", sample)
	}

	if err := DecodePayload([]byte(`{invalid}`), &sample); err == nil {
		t.Error("commsutil:codec_test - expected error for invalid json")
	}
	if err := DecodePayload(nil, &sample); err == nil {
		t.Error("commsutil:codec_test - expected error for empty data")
	}
}

func TestDecodePayload_TrailingData(t *testing.T) {
	var sample codecSample
	if err := DecodePayload([]byte(`{"peer":"bob"} {"peer":"eve"}`), &sample); err == nil {
		t.Error("commsutil:codec_test - expected error for trailing data")
	}
	if err := DecodePayload([]byte("{\"peer\":\"bob\"}\n"), &sample); err != nil {
		t.Errorf("commsutil:codec_test - trailing whitespace should be accepted: %v", err)
	}
}
