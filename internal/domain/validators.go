package domain

// Validators pins a remote resource to one version. Empty fields are unknown.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Differs reports whether other contradicts v. A field that is unknown on
// either side never counts as a difference.
func (v Validators) Differs(other Validators) bool {
	if v.ETag != "" && other.ETag != "" && v.ETag != other.ETag {
		return true
	}
	if v.LastModified != "" && other.LastModified != "" && v.LastModified != other.LastModified {
		return true
	}
	return false
}
