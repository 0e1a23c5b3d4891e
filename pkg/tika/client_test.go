package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vardast-go/internal/config"
)

func TestExtractText(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte("提取出来的文本"))
	}))
	defer server.Close()

	client := NewClient(config.TikaConfig{ServerURL: server.URL})

	text, err := client.ExtractText(context.Background(), strings.NewReader("raw bytes"), "report.pdf")
	require.NoError(t, err)

	assert.Equal(t, "提取出来的文本", text)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/pdf", gotContentType)
	assert.Equal(t, "raw bytes", string(gotBody))
}

func TestExtractTextServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(config.TikaConfig{ServerURL: server.URL})

	_, err := client.ExtractText(context.Background(), strings.NewReader("x"), "a.docx")
	require.Error(t, err)
}
