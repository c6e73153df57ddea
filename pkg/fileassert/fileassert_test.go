package fileassert

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestExpectKind_DeviceTreeBlob(t *testing.T) {
	data := append([]byte{0xD0, 0x0D, 0xFE, 0xED}, make([]byte, 64)...)
	path := writeTemp(t, "bcm2710-rpi-3-b.dtb", data)
	if err := ExpectKind(path, types.KindDeviceTreeBlob); err != nil {
		t.Fatalf("ExpectKind: %v", err)
	}
}

func TestExpectKind_WrongKindFails(t *testing.T) {
	path := writeTemp(t, "not-a-dtb", []byte("hello world"))
	err := ExpectKind(path, types.KindDeviceTreeBlob)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.Is(err, errs.InvalidFileType) {
		t.Errorf("expected InvalidFileType, got %v", err)
	}
}

func TestExpectKind_ARM64Kernel(t *testing.T) {
	header := make([]byte, 64)
	copy(header[0x38:], []byte("ARM\x64"))
	path := writeTemp(t, "Image", header)
	if err := ExpectKind(path, types.KindKernelARM64); err != nil {
		t.Fatalf("ExpectKind: %v", err)
	}
}

func TestExpectKind_ARMHFKernel(t *testing.T) {
	header := make([]byte, 64)
	copy(header[0x24:], []byte{0x18, 0x28, 0x6F, 0x01})
	path := writeTemp(t, "zImage", header)
	if err := ExpectKind(path, types.KindKernelARMHF); err != nil {
		t.Fatalf("ExpectKind: %v", err)
	}
}

func TestExpectKind_InitRDGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte("cpio archive contents"))
	_ = gz.Close()
	path := writeTemp(t, "initrd.gz", buf.Bytes())
	if err := ExpectKind(path, types.KindInitRD); err != nil {
		t.Fatalf("ExpectKind: %v", err)
	}
}

func TestExpectKind_JSONConfig(t *testing.T) {
	path := writeTemp(t, "config.json", []byte(`{"hostname":"balena"}`))
	if err := ExpectKind(path, types.KindJSONConfig); err != nil {
		t.Fatalf("ExpectKind: %v", err)
	}
}

func TestExpectKind_OSImageGzipWithMBR(t *testing.T) {
	raw := make([]byte, 512)
	raw[0x1FE] = 0x55
	raw[0x1FF] = 0xAA
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write(raw)
	_ = gz.Close()
	path := writeTemp(t, "resin.img.gz", buf.Bytes())
	if err := ExpectKind(path, types.KindOSImage); err != nil {
		t.Fatalf("ExpectKind: %v", err)
	}
}

func TestCheckDigest(t *testing.T) {
	path := writeTemp(t, "data.bin", []byte("the quick brown fox"))
	// sha256("the quick brown fox")
	want := types.Digest{Algorithm: "sha256", Hex: "9ecb36561341d18eb65484e833efea61edc74b84cf5e6ae1b81c63533e25fc8f"}
	if err := CheckDigest(path, want); err != nil {
		t.Fatalf("CheckDigest: %v", err)
	}
}

func TestCheckDigest_Mismatch(t *testing.T) {
	path := writeTemp(t, "data.bin", []byte("something else"))
	bad := types.Digest{Algorithm: "sha256", Hex: "0000000000000000000000000000000000000000000000000000000000000000"[:64]}
	err := CheckDigest(path, bad)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errs.Is(err, errs.DigestMismatch) {
		t.Errorf("expected DigestMismatch, got %v", err)
	}
}
