package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "bizhealth", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in struct {
			Instances [][]float64 `json:"instances"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"predictions": [][]float64{{in.Instances[0][0] * 2}}})
	}))
	defer srv.Close()

	var out struct {
		Predictions [][]float64 `json:"predictions"`
	}
	err := NewClient().PostJSON(context.Background(), srv.URL, map[string]interface{}{"instances": [][]float64{{21}}}, &out)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{42}}, out.Predictions)
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such artifact", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient().Get(context.Background(), srv.URL+"/missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Body, "no such artifact")

	assert.ErrorAs(t, NewClient().GetJSON(context.Background(), srv.URL, nil), &se)
}

func TestGetRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	_, err := NewClient(WithMaxBody(4)).Get(context.Background(), srv.URL+"/group1-shard1of1.bin")
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	b, err := NewClient(WithMaxBody(10)).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(b))
}

func TestGetJSONDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{"))
	}))
	defer srv.Close()

	var v map[string]interface{}
	err := NewClient().GetJSON(context.Background(), srv.URL, &v)
	assert.ErrorContains(t, err, "decode json")
}
