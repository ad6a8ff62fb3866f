package registry

import (
	"errors"
	"testing"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aa:bb:cc:dd:ee:ff", want: "AA:BB:CC:DD:EE:FF"},
		{in: "AA-BB-CC-DD-EE-FF", want: "AA:BB:CC:DD:EE:FF"},
		{in: "aabbccddeeff", want: "AA:BB:CC:DD:EE:FF"},
		{in: "  00:12:4b:00:7a:ee ", want: "00:12:4B:00:7A:EE"},
		{in: "aa:bb-cc:dd:ee:ff", wantErr: true},
		{in: "aa:bb:cc:dd:ee", wantErr: true},
		{in: "gg:bb:cc:dd:ee:ff", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMAC) {
					t.Errorf("NormalizeMAC(%q) error = %v, want ErrInvalidMAC", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestNormalizeSuffix(t *testing.T) {
	if got, err := NormalizeSuffix("ee:0f"); err != nil || got != "EE:0F" {
		t.Errorf("NormalizeSuffix(ee:0f) = %q, %v", got, err)
	}
	for _, bad := range []string{"EEFF", "E:FF", "EE:FF:00", "ZZ:00", ""} {
		if _, err := NormalizeSuffix(bad); !errors.Is(err, ErrInvalidSuffix) {
			t.Errorf("NormalizeSuffix(%q) error = %v, want ErrInvalidSuffix", bad, err)
		}
	}
}

func TestBoardSuffix(t *testing.T) {
	b := Board{MAC: "00:12:4B:00:7A:EE"}
	if got := b.Suffix(); got != "7A:EE" {
		t.Errorf("Suffix() = %q, want %q", got, "7A:EE")
	}
}

func TestConnectionState_Valid(t *testing.T) {
	for state, want := range map[ConnectionState]bool{
		StatusConnected:    true,
		StatusDisconnected: true,
		"Connecting":       false,
		"":                 false,
	} {
		if got := state.Valid(); got != want {
			t.Errorf("%q.Valid() = %v, want %v", state, got, want)
		}
	}
}
