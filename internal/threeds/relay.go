package threeds

import (
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"
)

// DefaultSettleDelay is how long the relay waits after mounting the challenge
// document before submitting, so the issuer markup is fully attached.
const DefaultSettleDelay = 300 * time.Millisecond

var relayTemplate = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Verifying your payment</title>
</head>
<body>
<div id="challenge-container" style="display:none">{{.Payload}}</div>
<script>
(function () {
  var submitted = false;
  function submitChallenge() {
    if (submitted) { return; }
    submitted = true;
    var container = document.getElementById("challenge-container");
    var form = container.querySelector("form");
    if (!form) { return; }
    try {
      form.submit();
    } catch (err) {
      var control = form.querySelector('[type="submit"]');
      if (control) { control.click(); }
    }
  }
  window.setTimeout(submitChallenge, {{.DelayMillis}});
})();
</script>
</body>
</html>
`))

var redirectTemplate = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<noscript><meta http-equiv="refresh" content="0;url={{.URL}}"></noscript>
</head>
<body>
<script>window.location.replace({{.URL}});</script>
<a href="{{.URL}}">Continue to your bank</a>
</body>
</html>
`))

// RelayDocument wraps a normalized challenge payload in a page that mounts it
// into an isolated container and submits its first form exactly once after the
// settle delay. The payload is injected unescaped: it is issuer-authored HTML
// that must execute as-is.
func RelayDocument(payload string, settleDelay time.Duration) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", errors.New("threeds: empty challenge payload")
	}
	if !containsFormTag(payload) {
		return "", errors.New("threeds: challenge payload has no form to submit")
	}
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}

	var b strings.Builder
	err := relayTemplate.Execute(&b, struct {
		Payload     template.HTML
		DelayMillis template.JS
	}{
		Payload:     template.HTML(payload),
		DelayMillis: template.JS(strconv.FormatInt(settleDelay.Milliseconds(), 10)),
	})
	if err != nil {
		return "", fmt.Errorf("threeds: render relay document: %w", err)
	}
	return b.String(), nil
}

// BuildRedirectDocument produces a page that immediately navigates the
// shopper to the issuer challenge at the given URL, with a plain link as the
// no-script fallback. Used by providers that return a hosted challenge URL
// instead of an inline challenge document.
func BuildRedirectDocument(url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("threeds: redirect url is required")
	}

	var b strings.Builder
	err := redirectTemplate.Execute(&b, struct{ URL string }{URL: url})
	if err != nil {
		return "", fmt.Errorf("threeds: render redirect document: %w", err)
	}
	return b.String(), nil
}
