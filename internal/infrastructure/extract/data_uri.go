package extract

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// parseDataURI decodes an RFC 2397 data: URI into its media type and payload.
func parseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data uri")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data uri: missing payload separator")
	}

	if encoded, found := strings.CutSuffix(meta, ";base64"); found {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return mediaTypeOrDefault(encoded), data, nil
	}

	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("unescape payload: %w", err)
	}
	return mediaTypeOrDefault(meta), []byte(decoded), nil
}

func mediaTypeOrDefault(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return "text/plain"
	}
	// Parameters like charset are irrelevant downstream.
	if base, _, found := strings.Cut(mediaType, ";"); found {
		return base
	}
	return mediaType
}
