// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// Package vectorio reads and writes 1-D float32 vectors in the two formats
// the object store accepts: ".npy" (numpy's minimal binary format) and
// ".bin" (raw little-endian float32 bytes, no header). Only what the spec
// needs is implemented — no general-purpose npy reader.
package vectorio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

const (
	npyMagic      = "\x93NUMPY"
	float32Dtype  = "f4" // numpy dtype char 'f', itemsize 4
	bytesPerFloat = 4
)

// headerFieldRE pulls out descr/fortran_order/shape from the small,
// fixed-shape dict numpy writes in the .npy header — strict enough to
// reject anything that isn't our narrow 1-D float32 case.
var headerFieldRE = regexp.MustCompile(`'descr'\s*:\s*'([^']+)'.*'fortran_order'\s*:\s*(True|False).*'shape'\s*:\s*\(([^)]*)\)`)

// Decode parses either a ".npy" or raw ".bin" payload into a 1-D float32
// slice, returning InvalidFormat on anything that isn't exactly that.
// isNpy selects which parser runs; dims, if > 0, is the caller-asserted
// element count for ".bin" payloads and must match what the byte length
// implies.
func Decode(data []byte, isNpy bool, dims int) ([]float32, error) {
	if isNpy {
		return decodeNpy(data)
	}
	return decodeBin(data, dims)
}

func decodeBin(data []byte, dims int) ([]float32, error) {
	if len(data)%bytesPerFloat != 0 {
		return nil, ebrerrors.NewInvalidFormat("invalid .bin payload",
			fmt.Sprintf("size %d is not a multiple of %d", len(data), bytesPerFloat))
	}
	n := len(data) / bytesPerFloat
	if dims > 0 && dims != n {
		return nil, ebrerrors.NewInvalidFormat("invalid .bin payload",
			fmt.Sprintf("caller asserted %d dims but payload implies %d", dims, n))
	}
	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = float32FromBits(bits)
	}
	return out, nil
}

func decodeNpy(data []byte) ([]float32, error) {
	if len(data) < 10 || string(data[:6]) != npyMagic {
		return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", "missing \\x93NUMPY magic prefix")
	}
	major := data[6]
	var headerLen int
	var headerStart int
	if major == 1 {
		if len(data) < 10 {
			return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", "truncated v1 header")
		}
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		headerStart = 10
	} else {
		if len(data) < 12 {
			return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", "truncated v2+ header")
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		headerStart = 12
	}
	if headerStart+headerLen > len(data) {
		return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", "header length exceeds buffer")
	}
	header := string(data[headerStart : headerStart+headerLen])

	m := headerFieldRE.FindStringSubmatch(header)
	if m == nil {
		return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", "could not parse header dict")
	}
	descr, fortran, shapeStr := m[1], m[2], m[3]

	if fortran == "True" {
		return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", "fortran_order arrays are not supported")
	}
	if !isFloat32Descr(descr) {
		return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", fmt.Sprintf("dtype %q is not float32", descr))
	}

	dims, err := parseShape(shapeStr)
	if err != nil {
		return nil, err
	}
	if len(dims) != 1 {
		return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", fmt.Sprintf("ndim %d is not 1", len(dims)))
	}

	payload := data[headerStart+headerLen:]
	return decodeBin(payload, dims[0])
}

func isFloat32Descr(descr string) bool {
	switch descr {
	case "<f4", "f4", "=f4", float32Dtype:
		return true
	default:
		return false
	}
}

func parseShape(shapeStr string) ([]int, error) {
	var dims []int
	for _, part := range splitNonEmpty(shapeStr, ',') {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, ebrerrors.NewInvalidFormat("invalid .npy payload", fmt.Sprintf("non-integer shape element %q", part))
		}
		dims = append(dims, n)
	}
	return dims, nil
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if trimmed := trimSpace(s[start:i]); trimmed != "" {
				out = append(out, trimmed)
			}
			start = i + 1
		}
	}
	if trimmed := trimSpace(s[start:]); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// EncodeBin serializes a 1-D float32 slice as raw little-endian bytes.
func EncodeBin(vec []float32) []byte {
	buf := make([]byte, len(vec)*bytesPerFloat)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], float32Bits(v))
	}
	return buf
}

// EncodeNpy serializes a 1-D float32 slice as a minimal v1.0 .npy file,
// with the header deterministically regenerated from shape/dtype/itemsize
// rather than copied from any caller-supplied header.
func EncodeNpy(vec []float32) []byte {
	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d,), }", len(vec))
	// numpy pads the header so magic+verison+headerlen+dict+"\n" is a
	// multiple of 64 bytes.
	const preludeLen = 10 // magic(6) + version(2) + headerlen(2)
	total := preludeLen + len(dict) + 1
	pad := (64 - total%64) % 64
	header := dict + string(bytes.Repeat([]byte{' '}, pad)) + "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.WriteByte(1) // major
	buf.WriteByte(0) // minor
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(header)))
	buf.Write(lenBuf[:])
	buf.WriteString(header)
	buf.Write(EncodeBin(vec))
	return buf.Bytes()
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float32Bits(v float32) uint32 {
	return math.Float32bits(v)
}
