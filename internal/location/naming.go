package location

import (
	"path"
	"strings"
)

const (
	// DefaultPhotoExtension is used when a photo is requested without an extension.
	DefaultPhotoExtension = "jpg"

	tempSuffix = ".temp"
)

// mimeExtensions is matched exactly. Unknown types resolve to no extension.
var mimeExtensions = map[string]string{
	"video/mp4": ".mp4",
	"audio/ogg": ".ogg",
}

// Names returns the temporary and final file names for loc.
//
// Photos are stored as "{volume}_{local}.{ext}", documents as "{dc}_{id}{ext}"
// where ext already carries its leading dot.
func Names(loc Location, ext string) (tempName, finalName string, err error) {
	if loc == nil {
		return "", "", &InvalidLocationError{Reason: "location is missing"}
	}

	if err := loc.Validate(); err != nil {
		return "", "", err
	}

	switch l := loc.(type) {
	case Photo:
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" {
			ext = DefaultPhotoExtension
		}

		return l.IDPair() + tempSuffix, l.IDPair() + "." + ext, nil
	case Document:
		return l.IDPair() + tempSuffix, l.IDPair() + ext, nil
	default:
		return "", "", &InvalidLocationError{Kind: loc.Kind(), Reason: "unsupported location"}
	}
}

// ResolveExtension derives a document extension, including the leading dot,
// from the last path component of fileName. When fileName has no usable
// extension the MIME type decides.
func ResolveExtension(fileName, mimeType string) string {
	if fileName != "" {
		base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
		if idx := strings.LastIndexByte(base, '.'); idx != -1 {
			if ext := base[idx:]; len(ext) > 1 {
				return ext
			}
		}
	}

	return mimeExtensions[mimeType]
}

// IsTempName reports whether name was produced as a temporary file name.
func IsTempName(name string) bool {
	return strings.HasSuffix(name, tempSuffix)
}

// TempIDPair strips the temporary suffix, returning the identifier pair.
func TempIDPair(name string) string {
	return strings.TrimSuffix(name, tempSuffix)
}
