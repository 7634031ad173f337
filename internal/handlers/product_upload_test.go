package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/storage"
)

func multipartContext(t *testing.T, build func(w *multipart.Writer)) *gin.Context {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	build(writer)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/api/v1/admin/products/1/images", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return c
}

func writeImage(t *testing.T, w *multipart.Writer, name string) {
	t.Helper()
	part, err := w.CreateFormFile("image", name)
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	require.NoError(t, err)
}

func TestParseImageUpload_PicksLastPrimaryValue(t *testing.T) {
	c := multipartContext(t, func(w *multipart.Writer) {
		writeImage(t, w, "front.png")
		_ = w.WriteField("isPrimary", "false")
		_ = w.WriteField("isPrimary", "on")
		_ = w.WriteField("alt", "  Front view ")
	})

	upload, err := parseImageUpload(c)
	require.NoError(t, err)
	assert.True(t, upload.Primary)
	assert.Equal(t, "Front view", upload.Alt)
	assert.Equal(t, "front.png", upload.File.Filename)
}

func TestParseImageUpload_RequiresImage(t *testing.T) {
	c := multipartContext(t, func(w *multipart.Writer) {
		_ = w.WriteField("alt", "nothing attached")
	})

	_, err := parseImageUpload(c)
	assert.ErrorIs(t, err, errImageRequired)
}

func TestParseImageUpload_RejectsUnsupportedExtension(t *testing.T) {
	c := multipartContext(t, func(w *multipart.Writer) {
		writeImage(t, w, "notes.txt")
	})

	_, err := parseImageUpload(c)
	assert.ErrorIs(t, err, storage.ErrUnsupportedImage)
}

func TestParseImageUpload_RejectsBadPrimaryFlag(t *testing.T) {
	c := multipartContext(t, func(w *multipart.Writer) {
		writeImage(t, w, "front.jpg")
		_ = w.WriteField("isPrimary", "maybe")
	})

	_, err := parseImageUpload(c)
	assert.Error(t, err)
}

func TestParseBoolValue(t *testing.T) {
	for raw, want := range map[string]bool{"on": true, "YES": true, "1": true, "true": true, "off": false, " no ": false, "0": false} {
		got, err := parseBoolValue(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseBoolValue("sometimes")
	assert.Error(t, err)
}
