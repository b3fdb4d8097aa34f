package tracking

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Injector rewrites outbound email HTML so recipient interactions pass
// through the tracking endpoints.
type Injector struct {
	codec   *Codec
	baseURL string
}

// NewInjector creates an injector. baseURL is the public root of the
// tracking service, e.g. "https://track.example.com".
func NewInjector(codec *Codec, baseURL string) *Injector {
	return &Injector{codec: codec, baseURL: strings.TrimRight(baseURL, "/")}
}

// Inject rewrites hyperlinks through the click endpoint and appends an
// invisible open-tracking pixel.
func (in *Injector) Inject(html string, queuedEmailID uuid.UUID) string {
	html = in.rewriteLinks(html, queuedEmailID)

	pixel := fmt.Sprintf(`<img src="%s/track/open/%s" width="1" height="1" style="display:none" />`,
		in.baseURL, in.codec.EncodeOpen(queuedEmailID))
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

// rewriteLinks replaces every href="http..." with a tracked click URL.
// Links already pointing at the tracking host are left alone.
func (in *Injector) rewriteLinks(html string, queuedEmailID uuid.UUID) string {
	const marker = `href="http`

	var b strings.Builder
	rest := html
	for {
		idx := strings.Index(rest, marker)
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		start := idx + len(`href="`)
		end := strings.Index(rest[start:], `"`)
		if end == -1 {
			b.WriteString(rest)
			break
		}

		original := rest[start : start+end]
		b.WriteString(rest[:start])
		if strings.Contains(original, "/track/") {
			b.WriteString(original)
		} else {
			b.WriteString(fmt.Sprintf("%s/track/click/%s",
				in.baseURL, in.codec.EncodeClick(queuedEmailID, original)))
		}
		rest = rest[start+end:]
	}
	return b.String()
}
