package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/storage"
)

const multipartMemory = 8 << 20

type imageUpload struct {
	File    *multipart.FileHeader
	Alt     string
	Primary bool
}

var errImageRequired = errors.New("image file is required")

// parseImageUpload reads the "image" part plus the optional alt and isPrimary
// fields. When a field repeats, the last value wins.
func parseImageUpload(c *gin.Context) (imageUpload, error) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		return imageUpload{}, fmt.Errorf("invalid multipart form: %w", err)
	}

	form := c.Request.MultipartForm
	files := form.File["image"]
	if len(files) == 0 {
		return imageUpload{}, errImageRequired
	}
	file := files[len(files)-1]

	if _, err := storage.ValidateImage(file.Filename, file.Size); err != nil {
		return imageUpload{}, err
	}

	upload := imageUpload{File: file, Alt: strings.TrimSpace(lastValue(form.Value["alt"]))}
	if raw := lastValue(form.Value["isPrimary"]); raw != "" {
		primary, err := parseBoolValue(raw)
		if err != nil {
			return imageUpload{}, fmt.Errorf("isPrimary must be a boolean")
		}
		upload.Primary = primary
	}
	return upload, nil
}

func lastValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

func parseBoolValue(value string) (bool, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "on", "yes", "1":
		return true, nil
	case "off", "no", "0":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func respondMultipartError(c *gin.Context, route string, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, storage.ErrImageTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	respondWithError(c, status, route, err.Error())
}
