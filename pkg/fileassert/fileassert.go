// Package fileassert implements C3: confirming a file on disk is what the
// caller believes it is before it is copied anywhere boot-critical. Kind
// checks read a small fixed header and look for a known signature; digest
// checks stream the whole file through a hash. Neither ever mutates the
// file under inspection.
package fileassert

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/json"
	"hash"
	"io"
	"os"

	"github.com/balenamigrate/stage1/pkg/errs"
	"github.com/balenamigrate/stage1/pkg/types"
)

// headerSize is the amount read from the front of a file before looking
// for a kind signature; every signature checked here lives well inside it.
const headerSize = 512

var (
	fdtMagic      = []byte{0xD0, 0x0D, 0xFE, 0xED}
	gzipMagic     = []byte{0x1F, 0x8B}
	zstdMagic     = []byte{0x28, 0xB5, 0x2F, 0xFD}
	xzMagic       = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	mzMagic       = []byte{0x4D, 0x5A}
	armZImageMagic = []byte{0x18, 0x28, 0x6F, 0x01} // 0x016F2818, little-endian on disk
	arm64ImageMagic = []byte("ARM\x64")
	mbrSignature    = []byte{0x55, 0xAA}
)

// ExpectKind reads enough of path to confirm it matches kind's signature.
// A mismatch fails with InvalidFileType; an unreadable file fails with
// IoError.
func ExpectKind(path string, kind types.FileKind) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.IoError, "cannot open "+path, err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return errs.Wrap(errs.IoError, "cannot read "+path, err)
	}
	header = header[:n]

	var ok bool
	switch kind {
	case types.KindKernelAMD64:
		ok = isPEKernelArch(header, 0x8664)
	case types.KindKernelI386:
		ok = isPEKernelArch(header, 0x014C)
	case types.KindKernelARMHF:
		ok = matchAt(header, 0x24, armZImageMagic)
	case types.KindKernelARM64:
		ok = matchAt(header, 0x38, arm64ImageMagic)
	case types.KindInitRD:
		ok = bytes.HasPrefix(header, gzipMagic) || bytes.HasPrefix(header, zstdMagic) || bytes.HasPrefix(header, xzMagic)
	case types.KindOSImage:
		ok = isOSImage(f, header)
	case types.KindJSONConfig:
		ok = isJSON(path)
	case types.KindDeviceTreeBlob:
		ok = bytes.HasPrefix(header, fdtMagic)
	case types.KindText:
		ok = true
	default:
		return errs.New(errs.InvalidFileType, "unknown file kind")
	}

	if !ok {
		return errs.New(errs.InvalidFileType, path+" does not match expected kind "+string(kind))
	}
	return nil
}

func matchAt(header []byte, offset int, sig []byte) bool {
	if offset+len(sig) > len(header) {
		return false
	}
	return bytes.Equal(header[offset:offset+len(sig)], sig)
}

// isMZWithPE confirms the MZ stub and follows the PE offset stored at 0x3C.
func isMZWithPE(header []byte) bool {
	if !bytes.HasPrefix(header, mzMagic) {
		return false
	}
	if len(header) < 0x40 {
		return false
	}
	peOffset := binary.LittleEndian.Uint32(header[0x3C:0x40])
	if int(peOffset)+6 > len(header) {
		return false
	}
	return bytes.Equal(header[peOffset:peOffset+4], []byte{'P', 'E', 0, 0})
}

// isPEKernelArch confirms an MZ/PE file whose COFF machine field equals
// wantMachine (0x014C for i386, 0x8664 for amd64).
func isPEKernelArch(header []byte, wantMachine uint16) bool {
	if !isMZWithPE(header) {
		return false
	}
	peOffset := binary.LittleEndian.Uint32(header[0x3C:0x40])
	machineOff := int(peOffset) + 4
	if machineOff+2 > len(header) {
		return false
	}
	machine := binary.LittleEndian.Uint16(header[machineOff : machineOff+2])
	return machine == wantMachine
}

// isOSImage accepts an uncompressed image or, if gzip-compressed, requires
// the inflated stream's first 512 bytes to carry a DOS/MBR signature.
func isOSImage(f *os.File, header []byte) bool {
	if !bytes.HasPrefix(header, gzipMagic) {
		return true // treat any non-gzip file as a raw image; caller already
		// knows the path points at something image-shaped.
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer gz.Close()
	buf := make([]byte, 512)
	if _, err := io.ReadFull(gz, buf); err != nil {
		return false
	}
	return bytes.Equal(buf[0x1FE:0x200], mbrSignature)
}

func isJSON(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var v any
	return json.Unmarshal(data, &v) == nil
}

// CheckDigest streams path through the hash function named by
// expected.Algorithm and compares against expected.Hex. The Linux
// boot-manager variants call it after copying a staged file whose
// FileHandle carries a digest; copies without a recorded digest, and the
// Windows variant's ESP staging, are not checked.
func CheckDigest(path string, expected types.Digest) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.IoError, "cannot open "+path, err)
	}
	defer f.Close()

	var h hash.Hash
	switch expected.Algorithm {
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return errs.New(errs.DigestMismatch, "unsupported digest algorithm "+expected.Algorithm)
	}

	if _, err := io.Copy(h, f); err != nil {
		return errs.Wrap(errs.IoError, "failed to read "+path, err)
	}

	got := hex(h.Sum(nil))
	if got != expected.Hex {
		return errs.New(errs.DigestMismatch, path+" digest mismatch: got "+got+" want "+expected.Hex)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func hex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xF]
	}
	return string(out)
}
