package jobs

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ConcatStitcher is the Stitcher used when no media pipeline is configured.
// It returns a playlist reference listing the segment outputs in order.
type ConcatStitcher struct {
	// BaseURL prefixes the playlist reference. Empty means "concat:".
	BaseURL string
}

// Stitch implements Stitcher.
func (s ConcatStitcher) Stitch(ctx context.Context, segmentURLs []string) (string, error) {
	if len(segmentURLs) == 0 {
		return "", errors.New("no segments to stitch")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q := url.Values{}
	for _, u := range segmentURLs {
		q.Add("segment", u)
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		return "concat:playlist.m3u8?" + q.Encode(), nil
	}
	return base + "/playlist.m3u8?" + q.Encode(), nil
}
