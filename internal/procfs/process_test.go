package procfs

import (
	"strings"
	"testing"
)

func TestParseMapsBaseAddress(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    uint64
		wantErr bool
	}{
		{
			name: "typical shared object mapping",
			line: "7f1a2c000000-7f1a2c200000 r-xp 00000000 08:01 123456                   /usr/lib/libclient.so",
			want: 0x7f1a2c000000,
		},
		{
			name:    "malformed line",
			line:    "not-a-maps-line",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMapsBaseAddress(tt.line, "libclient.so")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.U64() != tt.want {
				t.Fatalf("got %#x, want %#x", got.U64(), tt.want)
			}
		})
	}
}

func TestFirstLineContaining(t *testing.T) {
	maps := strings.Join([]string{
		"55a000000000-55a000100000 r--p 00000000 08:01 1 /usr/bin/cs2",
		"7f1a2c000000-7f1a2c200000 r-xp 00000000 08:01 2 /usr/lib/libclient.so",
		"7f1a2e000000-7f1a2e200000 r-xp 00000000 08:01 3 /usr/lib/libengine2.so",
	}, "\n")

	line, err := firstLineContaining(strings.NewReader(maps), "libengine2.so")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(line, "libengine2.so") {
		t.Fatalf("wrong line returned: %q", line)
	}

	line, err = firstLineContaining(strings.NewReader(maps), "libtier0.so")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line != "" {
		t.Fatalf("expected no match, got %q", line)
	}
}
