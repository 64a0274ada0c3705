package suppress

import (
	"fmt"
	"strconv"
)

// Script renders the suppression routine as JavaScript for injection with
// Page.addScriptToEvaluateOnNewDocument. It runs in the page's own event
// loop with the same XPath and interval as the Go routine. When binding is
// non-empty and the page exposes a function under that name, the script
// reports the successful inspection through it as a JSON string.
func Script(binding string) string {
	return fmt.Sprintf(`(() => {
	const xpath = %s;
	const binding = %s;
	const start = Date.now();
	let itv = null;
	let done = false;
	let attempts = 0;

	function hideCookieBanner() {
		if (done) return;
		attempts++;
		const result = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
		const el = result.singleNodeValue;
		if (!el) return;
		el.style.visibility = 'hidden';
		done = true;
		clearInterval(itv);
		if (binding && typeof window[binding] === 'function') {
			window[binding](JSON.stringify({
				xpath: xpath,
				attempts: attempts,
				elapsed_ms: Date.now() - start,
				url: location.href,
			}));
		}
	}

	document.addEventListener('DOMContentLoaded', hideCookieBanner);
	itv = setInterval(hideCookieBanner, %d);
})();`, strconv.Quote(XPath), strconv.Quote(binding), PollInterval.Milliseconds())
}

// ScriptReport is the payload sent by Script through its binding.
type ScriptReport struct {
	XPath     string `json:"xpath"`
	Attempts  int    `json:"attempts"`
	ElapsedMs int64  `json:"elapsed_ms"`
	URL       string `json:"url"`
}
