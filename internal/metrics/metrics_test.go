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
package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrementAndSurfaceInHandler(t *testing.T) {
	m := New()
	m.ObjectsStored.Inc()
	m.BytesPushed.Add(1024)
	m.GCBytesFreed.Add(2048)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "embeddingbridge_objects_stored_total 1")
	assert.Contains(t, body, "embeddingbridge_bytes_pushed_total 1024")
	assert.Contains(t, body, "embeddingbridge_gc_bytes_freed_total 2048")
}

func TestTwoInstancesDoNotShareRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ObjectsStored.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	assert.NotContains(t, rec.Body.String(), "embeddingbridge_objects_stored_total 1")
}
