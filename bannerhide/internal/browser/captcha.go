package browser

import (
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// watchCaptcha calls fn with the request URL of every response that comes
// back with status 511, which is how eMAG signals a captcha challenge. The
// returned func stops the listener.
func watchCaptcha(page *rod.Page, fn func(url string)) (stop func()) {
	p, cancel := page.WithCancel()
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response != nil && e.Response.Status == http.StatusNetworkAuthenticationRequired {
			fn(e.Response.URL)
		}
	})
	go wait()
	return cancel
}
