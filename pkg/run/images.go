package run

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentcanvas/agentcanvas/pkg/llm"
)

// maxImageBytes caps the total decoded size of a run's images.
const maxImageBytes = 20 << 20

// decodeImages decodes base64 image payloads, tolerating data URL prefixes.
func decodeImages(encoded []string) ([]llm.InlineImage, error) {
	var images []llm.InlineImage
	total := 0
	for i, raw := range encoded {
		payload := raw
		mimeType := ""
		if strings.HasPrefix(raw, "data:") {
			header, rest, ok := strings.Cut(raw, ",")
			if !ok {
				return nil, fmt.Errorf("image %d: malformed data URL", i)
			}
			payload = rest
			mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("image %d: invalid base64: %w", i, err)
		}
		total += len(data)
		if total > maxImageBytes {
			return nil, fmt.Errorf("images exceed %d byte limit", maxImageBytes)
		}
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		images = append(images, llm.InlineImage{MIMEType: mimeType, Data: data})
	}
	return images, nil
}
