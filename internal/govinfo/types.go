package govinfo

import "github.com/sells-group/crec-cli/internal/metadata"

// Package is one daily proceedings document.
type Package struct {
	PackageID   string         `json:"packageId"`
	Congress    metadata.Value `json:"congress"`
	DateIssued  string         `json:"dateIssued"`
	Title       string         `json:"title"`
	PackageLink string         `json:"packageLink"`
}

// PackageList is one page of a published-range listing.
type PackageList struct {
	Count    int       `json:"count"`
	NextPage string    `json:"nextPage"`
	Packages []Package `json:"packages"`
}

// Granule is one addressable section of a package.
type Granule struct {
	GranuleID    string `json:"granuleId"`
	GranuleLink  string `json:"granuleLink"`
	GranuleClass string `json:"granuleClass"`
	Title        string `json:"title"`
}

// GranuleList is one page of a package's granules.
type GranuleList struct {
	Count    int       `json:"count"`
	Offset   int       `json:"offset"`
	Granules []Granule `json:"granules"`
}

// Member is a legislator attached to a granule. Every field may arrive as a
// string, list or object, so all are kept raw until sanitized.
type Member struct {
	Name       metadata.Value `json:"name"`
	MemberName metadata.Value `json:"memberName"`
	Party      metadata.Value `json:"party"`
	State      metadata.Value `json:"state"`
	BioguideID metadata.Value `json:"bioguideId"`
	Role       metadata.Value `json:"role"`
}

// DisplayName returns the name field, falling back to memberName.
func (m Member) DisplayName() metadata.Value {
	if !m.Name.IsZero() {
		return m.Name
	}
	return m.MemberName
}

// Download lists the rendition links of a granule.
type Download struct {
	TxtLink string `json:"txtLink"`
	PdfLink string `json:"pdfLink"`
}

// Summary is the granule metadata document.
type Summary struct {
	GranuleID string         `json:"granuleId"`
	Title     string         `json:"title"`
	Members   []Member       `json:"members"`
	Download  Download       `json:"download"`
	Congress  metadata.Value `json:"congress"`
}
