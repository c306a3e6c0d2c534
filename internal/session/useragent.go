package session

import "strings"

// Device types derived from the User-Agent string.
const (
	DeviceDesktop = "desktop"
	DevicePhone   = "phone"
	DeviceTablet  = "tablet"
)

var botMarkers = []string{
	"bot", "crawler", "spider", "curl", "wget", "python-requests",
	"headless", "facebookexternalhit", "slurp",
}

// parseUserAgent extracts device info from a User-Agent string.
func parseUserAgent(ua string) (deviceType string, isBot bool) {
	ua = strings.ToLower(ua)

	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			isBot = true
			break
		}
	}

	switch {
	case strings.Contains(ua, "tablet"):
		deviceType = DeviceTablet
	case strings.Contains(ua, "ipad"):
		deviceType = DeviceTablet
	case strings.Contains(ua, "iphone"):
		deviceType = DevicePhone
	case strings.Contains(ua, "mobile"):
		deviceType = DevicePhone
	case strings.Contains(ua, "android"):
		if strings.Contains(ua, "mobile") {
			deviceType = DevicePhone
		} else {
			deviceType = DeviceTablet
		}
	default:
		deviceType = DeviceDesktop
	}

	return deviceType, isBot
}
