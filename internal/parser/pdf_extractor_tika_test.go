package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTikaTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tika":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "text/plain", r.Header.Get("Accept"))
			w.Write([]byte("张三 Go后端工程师"))
		case "/meta":
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Write([]byte(`{"xmpTPg:NPages": "2", "pdf:PDFVersion": "1.7", "X-Parsed-By": "org.apache.tika"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// TestTikaExtractor_ExtractText 测试文本提取与精简元数据过滤
func TestTikaExtractor_ExtractText(t *testing.T) {
	server := newTikaTestServer(t)
	extractor := NewTikaPDFExtractor(server.URL)

	text, metadata, err := extractor.ExtractTextFromBytes(context.Background(), []byte("%PDF-1.7"), "resume.pdf")
	require.NoError(t, err)

	assert.Equal(t, "张三 Go后端工程师", text)
	assert.Equal(t, "resume.pdf", metadata["source_uri"])
	assert.Equal(t, "2", metadata["xmpTPg:NPages"])
	assert.Equal(t, "1.7", metadata["pdf:PDFVersion"])
	// 非重要元数据不透传
	_, hasParser := metadata["X-Parsed-By"]
	assert.False(t, hasParser)
}

// TestTikaExtractor_MinimalMetadataDisabled 测试关闭元数据提取时只保留基本字段
func TestTikaExtractor_MinimalMetadataDisabled(t *testing.T) {
	server := newTikaTestServer(t)
	extractor := NewTikaPDFExtractor(server.URL, WithMinimalMetadata(false))

	_, metadata, err := extractor.ExtractTextFromBytes(context.Background(), []byte("%PDF-1.7"), "")
	require.NoError(t, err)
	_, hasPages := metadata["xmpTPg:NPages"]
	assert.False(t, hasPages)
	assert.Contains(t, metadata, "text_length")
}

// TestTikaExtractor_ServerError 测试服务器错误透传
func TestTikaExtractor_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	extractor := NewTikaPDFExtractor(server.URL)
	_, _, err := extractor.ExtractTextFromBytes(context.Background(), []byte("broken"), "x.pdf")
	assert.Error(t, err)
}
