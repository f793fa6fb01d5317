package extract

import "strings"

// extractPlain returns content as text. Invalid UTF-8 becomes U+FFFD.
func extractPlain(content []byte) (string, error) {
	return strings.ToValidUTF8(string(content), "�"), nil
}
