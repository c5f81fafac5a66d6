package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/ledger"
	"github.com/starford/meetupwiki/internal/storage"
)

// SourceRequest is the request body for publish and preview.
type SourceRequest struct {
	SourceURI string `json:"source_uri" example:"https://groups.example.com/kyotorb/mail/15.html"`
}

// Validate validates the request.
func (r SourceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SourceURI, validation.Required, validation.Length(1, 2048)),
	)
}

// PreviewResponse carries a rendered page.
type PreviewResponse struct {
	Announcement announcement.Announcement `json:"announcement"`
	Markdown     string                    `json:"markdown"`
	HTML         string                    `json:"html"`
}

// RunListResponse wraps recent ledger runs.
type RunListResponse struct {
	Runs []ledger.Record `json:"runs"`
}

// PageListResponse wraps the checkout's pages.
type PageListResponse struct {
	Pages []storage.Page `json:"pages"`
}
