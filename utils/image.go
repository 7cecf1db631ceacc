package utils

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

// IsValidImageType checks if the content type is a valid image type
func IsValidImageType(contentType string) bool {
	validTypes := []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/gif",
		"image/webp",
	}

	for _, validType := range validTypes {
		if strings.EqualFold(contentType, validType) {
			return true
		}
	}

	return false
}

// GetImageExtension returns the file extension for a given content type
func GetImageExtension(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// ImageContentType guesses a content type from a file path.
func ImageContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// IsDataURL reports whether s is an inline data: URL. User images arrive
// either as data URLs (sent straight to the LLM) or as stored file paths.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// ImageToDataURL base64-encodes raw image bytes into a data URL.
func ImageToDataURL(contentType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}

// DataURLBase64 strips the data URL prefix and returns the raw base64
// payload, for services that take bare base64 instead of a full URL.
func DataURLBase64(dataURL string) string {
	if idx := strings.Index(dataURL, ","); idx >= 0 {
		return dataURL[idx+1:]
	}
	return dataURL
}
