package downloader

import (
	"github.com/italolelis/mediafetch/internal/location"
)

// Request describes a blob to download. Photo fields and document fields are
// mutually exclusive and selected by Kind.
type Request struct {
	Kind location.Kind `json:"kind"`

	// Photo
	VolumeID int64  `json:"volume_id,omitempty"`
	LocalID  int64  `json:"local_id,omitempty"`
	Ext      string `json:"ext,omitempty"`

	// Document
	ID         int64  `json:"id,omitempty"`
	AccessHash int64  `json:"access_hash,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`

	DatacenterID int32 `json:"dc_id"`
	Size         int64 `json:"size"`
	Force        bool  `json:"force,omitempty"`
}

// Location builds and validates the descriptor for r.
func (r Request) Location() (location.Location, error) {
	var loc location.Location

	switch r.Kind {
	case location.KindPhoto:
		loc = location.Photo{VolumeID: r.VolumeID, LocalID: r.LocalID, DatacenterID: r.DatacenterID}
	case location.KindDocument:
		loc = location.Document{ID: r.ID, AccessHash: r.AccessHash, DatacenterID: r.DatacenterID}
	default:
		return nil, &location.InvalidLocationError{Field: "kind", Reason: "must be photo or document"}
	}

	if err := loc.Validate(); err != nil {
		return nil, err
	}

	if r.Size < 0 {
		return nil, &location.InvalidLocationError{Kind: r.Kind, Field: "size", Reason: "must not be negative"}
	}

	return loc, nil
}

// extension is the hint passed to the naming resolver.
func (r Request) extension() string {
	if r.Kind == location.KindDocument {
		return location.ResolveExtension(r.FileName, r.MimeType)
	}

	return r.Ext
}
