package wire

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/tagtrack/model"
)

func TestResolveFirstBlock(t *testing.T) {
	for i, p := range model.Protocols {
		res, err := Resolve(byte(i))
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", i, err)
		}
		if res.Protocol != p {
			t.Fatalf("Resolve(%d).Protocol = %v, want %v", i, res.Protocol, p)
		}
		if res.Band != 69 {
			t.Fatalf("Resolve(%d).Band = %d, want 69", i, res.Band)
		}
		if res.Kind != model.KindTagDetection {
			t.Fatalf("Resolve(%d).Kind = %v, want %v", i, res.Kind, model.KindTagDetection)
		}
	}
}

func TestResolveBands(t *testing.T) {
	tests := []struct {
		code byte
		band int
	}{
		{0, 69},
		{16, 70},
		{112, 76},
		{128, 77},
		{135, 77},
		{144, 63},
		{151, 63},
		{160, 64},
		{224, 68},
		{231, 68},
	}
	for _, tt := range tests {
		res, err := Resolve(tt.code)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", tt.code, err)
		}
		if res.Band != tt.band {
			t.Fatalf("Resolve(%d).Band = %d, want %d", tt.code, res.Band, tt.band)
		}
	}
}

func TestResolveS64K(t *testing.T) {
	res, err := Resolve(5)
	if err != nil {
		t.Fatalf("Resolve(5) error = %v", err)
	}
	if res.Protocol != model.ProtocolS64K || res.Length != 7 {
		t.Fatalf("Resolve(5) = %v/%d, want S64K/7", res.Protocol, res.Length)
	}
}

func TestResolveUnsupported(t *testing.T) {
	var codes []byte
	for c := 8; c < 16; c++ {
		codes = append(codes, byte(c))
	}
	for c := 240; c < 255; c++ {
		codes = append(codes, byte(c))
	}
	for _, c := range codes {
		_, err := Resolve(c)
		if !errors.Is(err, ErrUnsupportedCode) {
			t.Fatalf("Resolve(%d) error = %v, want ErrUnsupportedCode", c, err)
		}
		var ce *CodeError
		if !errors.As(err, &ce) || ce.Code != c {
			t.Fatalf("Resolve(%d) error = %#v, want *CodeError{Code: %d}", c, err, c)
		}
	}
}

func TestResolveStationStatus(t *testing.T) {
	res, err := Resolve(StationStatusCode)
	if err != nil {
		t.Fatalf("Resolve(255) error = %v", err)
	}
	if res.Kind != model.KindStationStatus || res.Length != 7 {
		t.Fatalf("Resolve(255) = %v/%d, want station-status/7", res.Kind, res.Length)
	}
}

func TestCodeForInvertsResolve(t *testing.T) {
	for c := 0; c < 240; c++ {
		res, err := Resolve(byte(c))
		if err != nil {
			continue
		}
		got, ok := CodeFor(res.Protocol, res.Band)
		if !ok || got != byte(c) {
			t.Fatalf("CodeFor(%v, %d) = %d/%v, want %d", res.Protocol, res.Band, got, ok, c)
		}
	}
	if _, ok := CodeFor(model.ProtocolR256, 99); ok {
		t.Fatalf("CodeFor(R256, 99) ok = true, want false")
	}
}
