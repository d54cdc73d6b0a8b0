package forensic

import (
	"strings"

	"github.com/mssola/useragent"
)

// DescribeDevice reduces a raw User-Agent string to a stable, human readable
// device description stored in the forensic context. Unknown agents fall
// back to the trimmed raw string.
func DescribeDevice(rawUA string) string {
	raw := strings.TrimSpace(rawUA)
	if raw == "" {
		return ""
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()
	browser = strings.TrimSpace(browser)
	os := strings.TrimSpace(ua.OS())
	if browser == "" && os == "" {
		return raw
	}

	major := ""
	if parts := strings.Split(version, "."); len(parts) > 0 {
		major = parts[0]
	}

	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	var b strings.Builder
	if browser != "" {
		b.WriteString(browser)
		if major != "" {
			b.WriteString(" ")
			b.WriteString(major)
		}
	}
	if os != "" {
		if b.Len() > 0 {
			b.WriteString(" on ")
		}
		b.WriteString(os)
	}
	b.WriteString(" (")
	b.WriteString(platform)
	b.WriteString(")")
	return b.String()
}
