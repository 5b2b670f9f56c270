package analytics

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/idgen"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
	"github.com/c0deZ3R0/go-telemetry-kit/version"
)

// UploadPath is appended to the analytics URL for batch uploads.
const UploadPath = "/warp9/"

// Upload request headers.
const (
	HeaderDeviceFamily   = "X-UA-Device-Family"
	HeaderSentAt         = "X-UA-Sent-At"
	HeaderPackageName    = "X-UA-Package-Name"
	HeaderPackageVersion = "X-UA-Package-Version"
	HeaderLibVersion     = "X-UA-Lib-Version"
	HeaderTimezone       = "X-UA-Timezone"
	HeaderLocaleLanguage = "X-UA-Locale-Language"
	HeaderLocaleCountry  = "X-UA-Locale-Country"
	HeaderChannelID      = "X-UA-Channel-ID"
	HeaderFrameworks     = "X-UA-Frameworks"
	HeaderBatchID        = "X-UA-Batch-ID"
)

// Server tuning response headers.
const (
	HeaderMaxTotal         = "X-UA-Max-Total"
	HeaderMaxBatch         = "X-UA-Max-Batch"
	HeaderMinBatchInterval = "X-UA-Min-Batch-Interval"
)

// Bounds applied to server-tuned limits.
const (
	minTunedTotalBytes = 10 * 1024
	maxTunedTotalBytes = 5 * 1024 * 1024
	minTunedBatchBytes = 10 * 1024
	maxTunedBatchBytes = 500 * 1024
	minTunedInterval   = 60 * time.Second
	maxTunedInterval   = 7 * 24 * time.Hour
)

// TunedLimits are upload limits announced by the server. Zero fields are unset.
type TunedLimits struct {
	MaxTotalBytes    int64         `json:"max_total_bytes,omitempty"`
	MaxBatchBytes    int           `json:"max_batch_bytes,omitempty"`
	MinBatchInterval time.Duration `json:"min_batch_interval,omitempty"`
}

func clampInt64(v, lo, hi int64) int64 {
	return min(max(v, lo), hi)
}

// clampKiB converts a KiB header value to bytes within [lo, hi]. It clamps
// before multiplying so huge values cannot overflow.
func clampKiB(kb, lo, hi int64) int64 {
	return clampInt64(kb, lo/1024, hi/1024) * 1024
}

// parseTunedLimits reads the tuning headers of a successful upload response.
// It reports false when none is present or parseable.
func parseTunedLimits(h http.Header) (TunedLimits, bool) {
	var limits TunedLimits
	found := false
	if kb, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderMaxTotal)), 10, 64); err == nil {
		limits.MaxTotalBytes = clampKiB(kb, minTunedTotalBytes, maxTunedTotalBytes)
		found = true
	}
	if kb, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderMaxBatch)), 10, 64); err == nil {
		limits.MaxBatchBytes = int(clampKiB(kb, minTunedBatchBytes, maxTunedBatchBytes))
		found = true
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderMinBatchInterval)), 10, 64); err == nil {
		limits.MinBatchInterval = time.Duration(clampInt64(ms, minTunedInterval.Milliseconds(), maxTunedInterval.Milliseconds())) * time.Millisecond
		found = true
	}
	return limits, found
}

// batch is one upload attempt's worth of events.
type batch struct {
	id       string
	ids      []string
	body     []byte
	overflow bool
}

// buildBatch takes records oldest first until either limit is reached. The
// first record is always taken so an event near the batch size limit cannot
// stall the queue.
func buildBatch(records []storage.EventRecord, maxEvents, maxBytes int) batch {
	var buf bytes.Buffer
	buf.WriteByte('[')
	b := batch{id: idgen.MustShort(idgen.BatchPrefix)}
	total := 2
	for i, rec := range records {
		if len(b.ids) == maxEvents {
			break
		}
		size := len(rec.Body) + 1
		if len(b.ids) > 0 && total+size > maxBytes {
			break
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(rec.Body)
		total += size
		b.ids = append(b.ids, rec.ID)
	}
	buf.WriteByte(']')
	b.body = buf.Bytes()
	b.overflow = len(b.ids) < len(records)
	return b
}

// uploadRequest builds the batch POST with the identifying headers.
func (a *Analytics) uploadRequest(b batch, now time.Time) *transport.Request {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set(HeaderDeviceFamily, a.env.Platform())
	h.Set(HeaderSentAt, FormatTime(now))
	h.Set(HeaderLibVersion, version.Version)
	h.Set(HeaderTimezone, a.env.Timezone())
	h.Set(HeaderBatchID, b.id)
	if v := a.env.PackageName(); v != "" {
		h.Set(HeaderPackageName, v)
	}
	if v := a.env.AppVersion(); v != "" {
		h.Set(HeaderPackageVersion, v)
	}
	loc := a.env.CurrentLocale()
	if loc.Language != "" {
		h.Set(HeaderLocaleLanguage, loc.Language)
	}
	if loc.Country != "" {
		h.Set(HeaderLocaleCountry, loc.Country)
	}
	if v := a.env.ChannelID(); v != "" {
		h.Set(HeaderChannelID, v)
	}
	if v := a.extensions.Header(); v != "" {
		h.Set(HeaderFrameworks, v)
	}
	return &transport.Request{
		Method:   http.MethodPost,
		URL:      strings.TrimRight(a.cfg.AnalyticsURL, "/") + UploadPath,
		Header:   h,
		Body:     b.body,
		Compress: true,
	}
}

// classifyUpload maps a transport outcome onto the error taxonomy: nil for
// 2xx, permanent for 4xx, transient for everything else.
func classifyUpload(resp *transport.Response, err error) error {
	if err != nil {
		if syncErrors.CodeOf(err) != "" {
			return err
		}
		return syncErrors.NewNetworkError(syncErrors.OpUpload, err)
	}
	if resp == nil {
		return syncErrors.NewNetworkError(syncErrors.OpUpload, errNoResponse)
	}
	return syncErrors.FromStatus(syncErrors.OpUpload, resp.StatusCode)
}
