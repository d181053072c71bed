// Package govinfo wraps the document API endpoints used for ingestion.
package govinfo

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/config"
	"github.com/sells-group/crec-cli/internal/fetcher"
)

// Client is a typed view of the document API.
type Client struct {
	get        fetcher.Getter
	baseURL    string
	collection string
	pageSize   int
}

// New creates a Client that issues requests through g.
func New(g fetcher.Getter, cfg config.GovInfoConfig) *Client {
	c := &Client{
		get:        g,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		collection: cfg.Collection,
		pageSize:   cfg.PageSize,
	}
	if c.collection == "" {
		c.collection = "CREC"
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	return c
}

// PageSize returns the configured listing page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// ListPackages returns one page of packages published between start and end
// (inclusive, YYYY-MM-DD).
func (c *Client) ListPackages(ctx context.Context, start, end string, offset, pageSize int) (*PackageList, error) {
	endpoint := c.baseURL + "/published/" + url.PathEscape(start) + "/" + url.PathEscape(end)
	params := url.Values{
		"collection": {c.collection},
		"pageSize":   {strconv.Itoa(pageSize)},
		"offset":     {strconv.Itoa(offset)},
	}
	list, err := fetcher.GetJSON[PackageList](ctx, c.get, endpoint, params)
	if err != nil {
		return nil, eris.Wrapf(err, "govinfo: list packages %s..%s offset %d", start, end, offset)
	}
	return &list, nil
}

// AllPackages pages through every package in the range and returns them
// sorted by package id. Paging stops at an empty or short page.
func (c *Client) AllPackages(ctx context.Context, start, end string) ([]Package, error) {
	var all []Package
	for offset := 0; ; offset += c.pageSize {
		zap.L().Debug("govinfo: listing packages",
			zap.String("start", start),
			zap.String("end", end),
			zap.Int("offset", offset),
		)
		page, err := c.ListPackages(ctx, start, end, offset, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Packages...)
		if len(page.Packages) < c.pageSize {
			break
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PackageID < all[j].PackageID })
	return all, nil
}

// ListGranules returns one page of a package's granules.
func (c *Client) ListGranules(ctx context.Context, packageID string, offset, pageSize int) (*GranuleList, error) {
	endpoint := c.baseURL + "/packages/" + url.PathEscape(packageID) + "/granules"
	params := url.Values{
		"pageSize": {strconv.Itoa(pageSize)},
		"offset":   {strconv.Itoa(offset)},
	}
	list, err := fetcher.GetJSON[GranuleList](ctx, c.get, endpoint, params)
	if err != nil {
		return nil, eris.Wrapf(err, "govinfo: list granules %s offset %d", packageID, offset)
	}
	return &list, nil
}

// GetPackage fetches the summary of a single package.
func (c *Client) GetPackage(ctx context.Context, packageID string) (*Package, error) {
	endpoint := c.baseURL + "/packages/" + url.PathEscape(packageID) + "/summary"
	pkg, err := fetcher.GetJSON[Package](ctx, c.get, endpoint, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "govinfo: package summary %s", packageID)
	}
	if pkg.PackageID == "" {
		pkg.PackageID = packageID
	}
	return &pkg, nil
}

// GranuleSummary fetches the metadata document at link.
func (c *Client) GranuleSummary(ctx context.Context, link string) (*Summary, error) {
	s, err := fetcher.GetJSON[Summary](ctx, c.get, link, nil)
	if err != nil {
		return nil, eris.Wrap(err, "govinfo: granule summary")
	}
	return &s, nil
}

// DownloadText fetches the raw text rendition at link.
func (c *Client) DownloadText(ctx context.Context, link string) ([]byte, error) {
	resp, err := c.get.Get(ctx, link, nil)
	if err != nil {
		return nil, eris.Wrap(err, "govinfo: download text")
	}
	return resp.Body, nil
}

// PackageDate extracts YYYYMMDD from an id of the form CREC-YYYY-MM-DD[...].
// It returns 0 when the id does not carry a date.
func PackageDate(packageID string) int {
	parts := strings.Split(packageID, "-")
	if len(parts) < 4 || len(parts[1]) != 4 || len(parts[2]) != 2 || len(parts[3]) != 2 {
		return 0
	}
	n, err := strconv.Atoi(parts[1] + parts[2] + parts[3])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
