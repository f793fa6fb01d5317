package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const odfContentPath = "content.xml"

var (
	// Paragraphs and headings, with optional attributes. Inline markup is stripped afterwards.
	odfBlock = regexp.MustCompile(`(?s)<text:(p|h)[^>]*>(.*?)</text:(?:p|h)>`)
	xmlTag   = regexp.MustCompile(`<[^>]+>`)
)

// extractODT returns the text of an OpenDocument text file, one line per
// paragraph or heading.
func extractODT(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	contentXML, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract ODT: %w", err)
	}
	var lines []string
	for _, m := range odfBlock.FindAllStringSubmatch(string(contentXML), -1) {
		line := strings.TrimSpace(unescapeXML(xmlTag.ReplaceAllString(m[2], "")))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
