// Package useragent classifies raw User-Agent headers into device class,
// browser family and operating system.
package useragent

import (
	"strings"
)

type Device string

const (
	Desktop Device = "Desktop"
	Mobile  Device = "Mobile"
	Tablet  Device = "Tablet"
)

const (
	BrowserEdge    = "Edge"
	BrowserSamsung = "Samsung Internet"
	BrowserUC      = "UC Browser"
	BrowserOpera   = "Opera"
	BrowserYandex  = "Yandex"
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserIE      = "Internet Explorer"

	OSWindows  = "Windows"
	OSIOS      = "iOS"
	OSAndroid  = "Android"
	OSMacOS    = "macOS"
	OSChromeOS = "ChromeOS"
	OSLinux    = "Linux"

	Other = "Other"
)

// Info is the classification of one User-Agent string.
type Info struct {
	Device  Device `json:"device"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// pattern matches when any of its keywords is present.
type pattern struct {
	name     string
	keywords []string
}

// Checked in order. Chromium derivatives carry "chrome/" and every WebKit
// browser carries "safari/", so the specific brands come first.
var browserPatterns = []pattern{
	{name: BrowserEdge, keywords: []string{"edg/", "edge/", "edga/", "edgios/"}},
	{name: BrowserSamsung, keywords: []string{"samsungbrowser"}},
	{name: BrowserUC, keywords: []string{"ucbrowser", "ucweb"}},
	{name: BrowserOpera, keywords: []string{"opr/", "opera", "opios/"}},
	{name: BrowserYandex, keywords: []string{"yabrowser", "yandexbrowser"}},
	{name: BrowserChrome, keywords: []string{"chrome/", "crios/", "chromium/"}},
	{name: BrowserFirefox, keywords: []string{"firefox/", "fxios/"}},
	{name: BrowserSafari, keywords: []string{"safari/"}},
	{name: BrowserIE, keywords: []string{"msie ", "trident/"}},
}

// iOS before macOS: iPhone and iPad strings say "like Mac OS X".
// Android before Linux: Android strings say "Linux".
var osPatterns = []pattern{
	{name: OSWindows, keywords: []string{"windows"}},
	{name: OSIOS, keywords: []string{"iphone", "ipad", "ipod"}},
	{name: OSAndroid, keywords: []string{"android"}},
	{name: OSMacOS, keywords: []string{"macintosh", "mac os x"}},
	{name: OSChromeOS, keywords: []string{"cros "}},
	{name: OSLinux, keywords: []string{"linux"}},
}

var (
	tabletTokens = []string{"ipad", "tablet", "kindle", "silk/", "playbook"}
	mobileTokens = []string{"mobi", "iphone", "ipod", "windows phone", "blackberry", "opera mini", "android"}
)

// Classify never fails; unknown input yields Desktop/Other/Other.
func Classify(raw string) Info {
	ua := strings.ToLower(strings.TrimSpace(raw))

	return Info{
		Device:  parseDevice(ua),
		Browser: firstMatch(ua, browserPatterns),
		OS:      firstMatch(ua, osPatterns),
	}
}

func firstMatch(ua string, patterns []pattern) string {
	if ua == "" {
		return Other
	}
	for _, p := range patterns {
		if containsAny(ua, p.keywords) {
			return p.name
		}
	}
	return Other
}

func parseDevice(ua string) Device {
	if ua == "" {
		return Desktop
	}
	if containsAny(ua, tabletTokens) {
		return Tablet
	}
	// Android tablets drop the "mobile" token.
	if strings.Contains(ua, "android") && !strings.Contains(ua, "mobi") {
		return Tablet
	}
	if containsAny(ua, mobileTokens) {
		return Mobile
	}
	return Desktop
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
