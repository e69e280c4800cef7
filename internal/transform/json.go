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
	"encoding/base64"
	"encoding/json"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// jsonEnvelope is the wire shape jsonTransformer produces: the payload
// base64-encoded under "data", plus whatever metadata the caller supplied.
type jsonEnvelope struct {
	Data string            `json:"data"`
	Meta map[string]string `json:"meta,omitempty"`
}

// jsonTransformer wraps a binary payload in a JSON object with a base64
// "data" field. Input that is already valid JSON passes through
// unchanged on Transform, instead of being wrapped a second time.
type jsonTransformer struct{}

func (jsonTransformer) Name() string       { return "json" }
func (jsonTransformer) FormatName() string { return "json" }

func (jsonTransformer) Transform(payload []byte, meta map[string]string) ([]byte, error) {
	if json.Valid(payload) {
		return payload, nil
	}
	env := jsonEnvelope{Data: base64.StdEncoding.EncodeToString(payload), Meta: meta}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, ebrerrors.NewInvalidFormat("cannot marshal json envelope", err.Error())
	}
	return out, nil
}

func (jsonTransformer) Inverse(wire []byte) ([]byte, map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(wire, &raw); err == nil {
		if dataField, ok := raw["data"]; ok {
			var data string
			if err := json.Unmarshal(dataField, &data); err != nil {
				return nil, nil, ebrerrors.NewInvalidFormat("cannot unmarshal json envelope data field", err.Error())
			}
			payload, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, nil, ebrerrors.NewInvalidFormat("cannot decode base64 data field", err.Error())
			}
			var meta map[string]string
			if metaField, ok := raw["meta"]; ok {
				if err := json.Unmarshal(metaField, &meta); err != nil {
					return nil, nil, ebrerrors.NewInvalidFormat("cannot unmarshal json envelope meta field", err.Error())
				}
			}
			return payload, meta, nil
		}
	}
	if !json.Valid(wire) {
		return nil, nil, ebrerrors.NewInvalidFormat("cannot unmarshal json envelope", "not a jsonEnvelope and not valid JSON")
	}
	return wire, nil, nil
}
