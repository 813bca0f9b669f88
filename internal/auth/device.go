package auth

import "strings"

// ParseDevice derives coarse browser, OS and device class from a User-Agent.
// Unknown agents leave the fields empty.
func ParseDevice(ip, userAgent string) Device {
	ua := strings.TrimSpace(userAgent)
	if len(ua) > 512 {
		ua = ua[:512]
	}
	d := Device{IP: strings.TrimSpace(ip), UserAgent: ua}
	if ua == "" {
		return d
	}
	lower := strings.ToLower(ua)
	d.Browser = matchFirst(lower, browserMarkers)
	d.OS = matchFirst(lower, osMarkers)
	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		d.Kind = "tablet"
	case strings.Contains(lower, "mobi") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		d.Kind = "mobile"
	case strings.Contains(lower, "bot") || strings.Contains(lower, "curl/"):
		d.Kind = "bot"
	default:
		d.Kind = "desktop"
	}
	return d
}

type marker struct {
	token string
	name  string
}

// Order matters: Edge and Opera agents also contain "chrome", and Chrome
// agents contain "safari".
var browserMarkers = []marker{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"firefox/", "Firefox"},
	{"chrome/", "Chrome"},
	{"crios/", "Chrome"},
	{"safari/", "Safari"},
	{"curl/", "curl"},
}

var osMarkers = []marker{
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"android", "Android"},
	{"mac os x", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

func matchFirst(ua string, markers []marker) string {
	for _, m := range markers {
		if strings.Contains(ua, m.token) {
			return m.name
		}
	}
	return ""
}
