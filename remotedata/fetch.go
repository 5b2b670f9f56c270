package remotedata

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/platform"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
	"github.com/c0deZ3R0/go-telemetry-kit/version"
)

// FetchPath is the route prefix of the remote data endpoint.
const FetchPath = "/api/remote-data/app/"

// fetchResult is the outcome of one remote data request.
type fetchResult struct {
	notModified bool
	payloads    map[string]Payload
	meta        Metadata
}

func fetchURL(base, appKey string, env *platform.Environment) string {
	locale := env.CurrentLocale()
	q := url.Values{}
	q.Set("sdk_version", version.Version)
	if locale.Language != "" {
		q.Set("language", locale.Language)
	}
	if locale.Country != "" {
		q.Set("country", locale.Country)
	}
	return strings.TrimRight(base, "/") + FetchPath + url.PathEscape(appKey) + "/" +
		url.PathEscape(env.Platform()) + "?" + q.Encode()
}

// fetchRequest builds the GET for the current environment. If-Modified-Since
// is sent only when last was fetched with the same locale and app version.
func (m *Manager) fetchRequest(last Metadata, current Metadata) *transport.Request {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if last.LastModified != "" && last.IsCurrent(current) {
		h.Set("If-Modified-Since", last.LastModified)
	}
	return &transport.Request{
		Method: http.MethodGet,
		URL:    fetchURL(m.cfg.RemoteDataURL, m.cfg.AppKey, m.env),
		Header: h,
	}
}

// parseFetch classifies a response. 304 is success with nothing to apply.
func parseFetch(resp *transport.Response, err error, current Metadata) (fetchResult, error) {
	if err != nil {
		return fetchResult{}, syncErrors.NewNetworkError(syncErrors.OpRefresh, err)
	}
	if resp == nil {
		return fetchResult{}, syncErrors.NewNetworkError(syncErrors.OpRefresh, errors.New("transport returned no response"))
	}
	if resp.StatusCode == http.StatusNotModified {
		return fetchResult{notModified: true, meta: current}, nil
	}
	if err := syncErrors.FromStatus(syncErrors.OpRefresh, resp.StatusCode); err != nil {
		return fetchResult{}, err
	}
	meta := current
	meta.LastModified = resp.Header.Get("Last-Modified")
	payloads, err := decodeResponse(resp.Body, meta)
	if err != nil {
		return fetchResult{}, syncErrors.NewValidationError(syncErrors.OpRefresh, err)
	}
	return fetchResult{payloads: payloads, meta: meta}, nil
}
