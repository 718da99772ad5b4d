package location

import (
	"fmt"
	"math"
)

// Unset is the value the remote side uses for identifiers it never filled in.
const Unset = math.MinInt32

// Kind names the addressing scheme of a remote blob.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
)

// Location identifies a remote blob. It is implemented only by Photo and Document.
type Location interface {
	Kind() Kind
	Datacenter() int32
	// IDPair is the identifier pair used for on-disk names.
	IDPair() string
	// Key is unique across kinds and stable across restarts.
	Key() string
	Validate() error

	isLocation()
}

// Photo is a blob addressed by volume and local id.
type Photo struct {
	VolumeID     int64 `json:"volume_id"`
	LocalID      int64 `json:"local_id"`
	DatacenterID int32 `json:"dc_id"`
}

func (Photo) isLocation() {}

func (Photo) Kind() Kind { return KindPhoto }

func (p Photo) Datacenter() int32 { return p.DatacenterID }

func (p Photo) IDPair() string { return fmt.Sprintf("%d_%d", p.VolumeID, p.LocalID) }

func (p Photo) Key() string { return string(KindPhoto) + ":" + p.IDPair() }

// Validate rejects photos with an unset or zero datacenter, an unset volume
// or zero identifiers.
func (p Photo) Validate() error {
	switch {
	case p.DatacenterID == Unset:
		return &InvalidLocationError{Kind: KindPhoto, Field: "dc_id", Reason: "is unset"}
	case p.VolumeID == Unset:
		return &InvalidLocationError{Kind: KindPhoto, Field: "volume_id", Reason: "is unset"}
	case p.DatacenterID <= 0:
		return &InvalidLocationError{Kind: KindPhoto, Field: "dc_id", Reason: "must be positive"}
	case p.VolumeID == 0 || p.LocalID == 0:
		return &InvalidLocationError{Kind: KindPhoto, Field: "volume_id/local_id", Reason: "must be non-zero"}
	}

	return nil
}

// Document is a blob addressed by id and access hash.
type Document struct {
	ID           int64 `json:"id"`
	AccessHash   int64 `json:"access_hash"`
	DatacenterID int32 `json:"dc_id"`
}

func (Document) isLocation() {}

func (Document) Kind() Kind { return KindDocument }

func (d Document) Datacenter() int32 { return d.DatacenterID }

func (d Document) IDPair() string { return fmt.Sprintf("%d_%d", d.DatacenterID, d.ID) }

func (d Document) Key() string { return string(KindDocument) + ":" + d.IDPair() }

// Validate rejects documents without a datacenter or id.
func (d Document) Validate() error {
	switch {
	case d.DatacenterID <= 0:
		return &InvalidLocationError{Kind: KindDocument, Field: "dc_id", Reason: "must be positive"}
	case d.ID == 0:
		return &InvalidLocationError{Kind: KindDocument, Field: "id", Reason: "must be non-zero"}
	}

	return nil
}

// InvalidLocationError reports a descriptor with missing or sentinel identifiers.
type InvalidLocationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *InvalidLocationError) Error() string {
	prefix := "invalid location"
	if e.Kind != "" {
		prefix = fmt.Sprintf("invalid %s location", e.Kind)
	}

	if e.Field == "" {
		return prefix + ": " + e.Reason
	}

	return fmt.Sprintf("%s: %s %s", prefix, e.Field, e.Reason)
}
