package browser

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/domainrecon/config"
)

const (
	loopDetectedStatus = 508
	loopDetectedBody   = "Loop Detected: too many redirects"
)

var errTooManyRedirects = errors.New("too many redirects")

// InstallRedirectLimiter mounts the redirect limiter (C5) on a fresh
// browsing context. Every request of resource type "document" (the only
// type that carries top-level and iframe navigations) is re-issued through
// a capped-redirect http.Client and the route is fulfilled with that
// response. If the client exceeds the redirect limit, the route is
// fulfilled with a synthetic 508 instead, so C6 can detect the condition
// without parsing error strings. Every other resource type continues
// unmodified. Returns the running HijackRouter; the caller must Stop() it
// when the browsing context closes.
func InstallRedirectLimiter(page *rod.Page, cfg config.ScanConfig) *rod.HijackRouter {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirectSteps {
				return errTooManyRedirects
			}
			return nil
		},
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if ctx.Request.Type() != proto.NetworkResourceTypeDocument {
			ctx.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}

		if err := ctx.LoadResponse(client, true); err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) && errors.Is(urlErr.Err, errTooManyRedirects) {
				ctx.Response.Payload().ResponseCode = loopDetectedStatus
				ctx.Response.SetBody(loopDetectedBody)
				return
			}
			// Any other transport failure: let the navigation surface its
			// own error to the page rather than masking it as a loop.
			ctx.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})

	go router.Run()
	return router
}
