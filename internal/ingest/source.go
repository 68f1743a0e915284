package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/talentgrid/jobpipe/internal/model"
)

// sourceJob mirrors one line of the crawler's JSONL export. Only the fields
// the pipeline consumes are declared; everything else is dropped on parse.
type sourceJob struct {
	Portal string `json:"portal"`
	Source string `json:"source"`
	Locale string `json:"locale"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Text   string `json:"text"`
	JSON   struct {
		SchemaOrg *sourceDetail `json:"schemaOrg"`
		JSONLD    *sourceDetail `json:"jsonLD"`
	} `json:"json"`
	Location struct {
		OrgAddress struct {
			AddressLine string `json:"addressLine"`
		} `json:"orgAddress"`
	} `json:"location"`
	Company struct {
		Name string `json:"name"`
		Info struct {
			CareerPageURL string `json:"careerpageURL"`
		} `json:"info"`
	} `json:"company"`
}

// sourceDetail is the structured-data blob embedded in a posting page. The
// schemaOrg variant is preferred; jsonLD fills the gaps.
type sourceDetail struct {
	DatePosted     string `json:"datePosted"`
	EmploymentType string `json:"employmentType"`
	ValidThrough   string `json:"validThrough"`
	JobLocation    struct {
		Address struct {
			AddressCountry  string `json:"addressCountry"`
			AddressRegion   string `json:"addressRegion"`
			AddressLocality string `json:"addressLocality"`
			PostalCode      string `json:"postalCode"`
		} `json:"address"`
	} `json:"jobLocation"`
}

// Column widths of the jobs table. Source data routinely overflows these.
const (
	maxPortalLen   = 100
	maxSourceLen   = 100
	maxLocaleLen   = 10
	maxTitleLen    = 500
	maxCompanyLen  = 500
	maxURLLen      = 1000
	maxLocationLen = 500
	maxAreaLen     = 100
	maxPostcodeLen = 20
)

// mapRecord builds the initial record from a source line. Lines without a url
// or posting text are unusable and reported as skipped.
func mapRecord(src sourceJob, fileID uuid.UUID) (model.Record, bool) {
	if src.URL == "" || src.Text == "" {
		return model.Record{}, false
	}

	r := model.Record{
		ID:           uuid.New(),
		FileID:       fileID,
		Status:       model.StatusIngested,
		IsValid:      true,
		DateInserted: time.Now().UTC(),

		Portal:      clip(src.Portal, maxPortalLen),
		Source:      clip(src.Source, maxSourceLen),
		Locale:      clip(src.Locale, maxLocaleLen),
		Title:       clip(src.Name, maxTitleLen),
		URL:         clip(src.URL, maxURLLen),
		Description: optional(src.Text),
		CompanyName: clip(src.Company.Name, maxCompanyLen),
		CompanyURL:  clip(src.Company.Info.CareerPageURL, maxURLLen),
		Location:    clip(src.Location.OrgAddress.AddressLine, maxLocationLen),
	}

	r.EmploymentType = optional(detailField(src, func(d *sourceDetail) string { return d.EmploymentType }))
	r.DatePosted = parseDate(detailField(src, func(d *sourceDetail) string { return d.DatePosted }))
	r.ValidThrough = parseDate(detailField(src, func(d *sourceDetail) string { return d.ValidThrough }))
	r.Country = clip(detailField(src, func(d *sourceDetail) string { return d.JobLocation.Address.AddressCountry }), maxAreaLen)
	r.Region = clip(detailField(src, func(d *sourceDetail) string { return d.JobLocation.Address.AddressRegion }), maxAreaLen)
	r.Locality = clip(detailField(src, func(d *sourceDetail) string { return d.JobLocation.Address.AddressLocality }), maxAreaLen)
	r.Postcode = clip(detailField(src, func(d *sourceDetail) string { return d.JobLocation.Address.PostalCode }), maxPostcodeLen)

	return r, true
}

// detailField reads a structured-data field, preferring schemaOrg over jsonLD.
func detailField(src sourceJob, get func(*sourceDetail) string) string {
	if src.JSON.SchemaOrg != nil {
		if v := get(src.JSON.SchemaOrg); v != "" {
			return v
		}
	}
	if src.JSON.JSONLD != nil {
		return get(src.JSON.JSONLD)
	}
	return ""
}

// clip truncates s to max bytes and returns nil for the empty string.
func clip(s string, max int) *string {
	if s == "" {
		return nil
	}
	if len(s) > max {
		s = s[:max]
	}
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// dateLayouts covers the formats seen in crawled structured data.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
