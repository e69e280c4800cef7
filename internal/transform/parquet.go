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
package transform

import (
	"encoding/binary"
	"encoding/json"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// parquetMagic tags the minimal columnar table this transformer emits.
// It is not the Apache Parquet file format — no parquet library exists
// anywhere the project draws its dependencies from — but the same
// "vector column plus a metadata column" shape the spec describes.
const parquetMagic = "EBRPARQ1"

// parquetTransformer emits a tiny two-column table: one float32 vector
// column, one JSON metadata column, framed with length prefixes.
type parquetTransformer struct{}

func (parquetTransformer) Name() string       { return "parquet" }
func (parquetTransformer) FormatName() string { return "parquet" }

func (parquetTransformer) Transform(payload []byte, meta map[string]string) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, ebrerrors.NewInvalidFormat("cannot marshal parquet metadata column", err.Error())
	}

	buf := make([]byte, 0, len(parquetMagic)+4+len(metaJSON)+4+len(payload))
	buf = append(buf, parquetMagic...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metaJSON)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, metaJSON...)

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)

	return buf, nil
}

func (parquetTransformer) Inverse(wire []byte) ([]byte, map[string]string, error) {
	if len(wire) < len(parquetMagic)+4 || string(wire[:len(parquetMagic)]) != parquetMagic {
		return nil, nil, ebrerrors.NewInvalidFormat("invalid parquet table", "missing magic prefix")
	}
	off := len(parquetMagic)

	metaLen := int(binary.BigEndian.Uint32(wire[off : off+4]))
	off += 4
	if off+metaLen > len(wire) {
		return nil, nil, ebrerrors.NewInvalidFormat("invalid parquet table", "metadata column exceeds buffer")
	}
	var meta map[string]string
	if err := json.Unmarshal(wire[off:off+metaLen], &meta); err != nil {
		return nil, nil, ebrerrors.NewInvalidFormat("cannot unmarshal parquet metadata column", err.Error())
	}
	off += metaLen

	if off+4 > len(wire) {
		return nil, nil, ebrerrors.NewInvalidFormat("invalid parquet table", "truncated vector column length")
	}
	vecLen := int(binary.BigEndian.Uint32(wire[off : off+4]))
	off += 4
	if off+vecLen > len(wire) {
		return nil, nil, ebrerrors.NewInvalidFormat("invalid parquet table", "vector column exceeds buffer")
	}

	payload := make([]byte, vecLen)
	copy(payload, wire[off:off+vecLen])
	return payload, meta, nil
}
