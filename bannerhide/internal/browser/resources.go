package browser

import (
	"regexp"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// trackerPatterns match eMAG's own telemetry endpoints and the third-party
// trackers its pages load. Blocking them keeps tabs quiet and fast.
var trackerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`emag\.ro/logger\.json`),
	regexp.MustCompile(`emag\.ro/recommendations/by-zone-position`),
	regexp.MustCompile(`emag\.ro/g/collect`),
	regexp.MustCompile(`googlesyndication\.com`),
	regexp.MustCompile(`google-analytics\.com`),
	regexp.MustCompile(`facebook\.com`),
	regexp.MustCompile(`tiktok\.com`),
	regexp.MustCompile(`snapchat\.com`),
	regexp.MustCompile(`adtrafficquality\.google`),
	regexp.MustCompile(`doubleclick\.net`),
	regexp.MustCompile(`creativecdn\.com`),
}

// blocker decides which requests a tab aborts.
type blocker struct {
	types    map[string]bool
	trackers bool
}

func newBlocker(types []string, trackers bool) *blocker {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = true
	}
	return &blocker{types: set, trackers: trackers}
}

func (b *blocker) active() bool {
	return len(b.types) > 0 || b.trackers
}

func (b *blocker) blocks(resType, rawURL string) bool {
	if shouldBlock(b.types, resType) {
		return true
	}
	return b.trackers && isTracker(rawURL)
}

// applyBlocking sets up request interception on page. The returned router
// must be stopped when the tab closes.
func applyBlocking(page *rod.Page, b *blocker) *rod.HijackRouter {
	router := page.HijackRequests()

	router.MustAdd("*", func(ctx *rod.Hijack) {
		if b.blocks(string(ctx.Request.Type()), ctx.Request.URL().String()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()

	return router
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)

	// Map resource types to our config names.
	switch lower {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	}

	return blockSet[lower]
}

func isTracker(rawURL string) bool {
	for _, p := range trackerPatterns {
		if p.MatchString(rawURL) {
			return true
		}
	}
	return false
}
