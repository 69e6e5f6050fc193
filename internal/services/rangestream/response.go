package rangestream

import (
	"net/http"
	"strconv"
	"strings"

	"remotestream/internal/domain"
)

// responseMeta is what a valid range response contributes to the stream.
type responseMeta struct {
	size        uint64
	contentType string
	validators  domain.Validators
}

// checkResponse validates resp against a request for bytes=position-.
// It never reads the body.
func checkResponse(resp *http.Response, position uint64) (responseMeta, error) {
	fail := func(reason string) (responseMeta, error) {
		return responseMeta{}, &ProtocolError{Reason: reason, Status: resp.StatusCode, Position: position}
	}

	switch {
	case position != 0 && resp.StatusCode != http.StatusPartialContent:
		return fail(ReasonExpectedPartial)
	case position == 0 && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return fail(ReasonUnexpectedStatus)
	}
	if _, ok := resp.Header[http.CanonicalHeaderKey("Accept-Ranges")]; !ok {
		return fail(ReasonRangesUnsupported)
	}
	if resp.ContentLength < 0 {
		return fail(ReasonMissingLength)
	}

	size := position + uint64(resp.ContentLength)
	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := completeLength(resp.Header.Get("Content-Range")); ok {
			size = total
		}
	}

	return responseMeta{
		size:        size,
		contentType: resp.Header.Get("Content-Type"),
		validators: domain.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// completeLength extracts the total from "bytes first-last/total".
func completeLength(contentRange string) (uint64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(contentRange), "bytes ")
	if !ok {
		return 0, false
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(total), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func rangeHeader(position uint64) string {
	return "bytes=" + strconv.FormatUint(position, 10) + "-"
}
