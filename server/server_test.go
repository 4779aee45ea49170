package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	genesisHash = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	headerJSON  = `{"ver":1,"prev_block":"0000000000000000000000000000000000000000000000000000000000000000",
		"mrkl_root":"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
		"time":1231006505,"bits":486604799,"nonce":2083236893,"n_tx":0}`
	headerHex = "0100000000000000000000000000000000000000000000000000000000000000000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c"
)

func do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	return rec
}

func TestToRaw(t *testing.T) {
	rec := do(t, http.MethodPost, "/block/raw", headerJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res rawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, genesisHash, res.Hash)
	assert.Equal(t, headerHex, res.Hex)
	assert.Equal(t, 80, res.Size)
}

func TestToJSON(t *testing.T) {
	rec := do(t, http.MethodPost, "/block/json", headerHex+"\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, genesisHash, doc["hash"])
	assert.EqualValues(t, 2083236893, doc["nonce"])
	assert.EqualValues(t, 0, doc["n_tx"])
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name, path, body string
		code             int
		contains         string
	}{
		{"tx missing", "/block/raw", strings.Replace(headerJSON, `"n_tx":0`, `"n_tx":2`, 1), http.StatusBadRequest, "tx: missing field"},
		{"missing field", "/block/raw", strings.Replace(headerJSON, `"ver":1,`, ``, 1), http.StatusBadRequest, "ver: missing field"},
		{"not hex", "/block/json", "zz", http.StatusBadRequest, "malformed hex"},
		{"truncated", "/block/json", headerHex[:100], http.StatusBadRequest, "decoding block"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, http.MethodGet, "/block/raw", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}
