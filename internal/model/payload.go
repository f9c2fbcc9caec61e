package model

// RawPayload holds the downloaded bytes of one item. It is owned by a single
// acquisition and must be released before that acquisition returns.
type RawPayload struct {
	data        []byte
	ContentType string
	SourceURL   string
}

// NewRawPayload wraps data. The payload takes ownership of the slice.
func NewRawPayload(data []byte, contentType, sourceURL string) *RawPayload {
	return &RawPayload{data: data, ContentType: contentType, SourceURL: sourceURL}
}

// Bytes returns the payload bytes, or nil after Release.
func (p *RawPayload) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.data
}

// Len returns the payload size in bytes.
func (p *RawPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.data)
}

// Release zeroes the backing array and drops the reference. Safe to call
// more than once and on a nil payload.
func (p *RawPayload) Release() {
	if p == nil {
		return
	}
	clear(p.data)
	p.data = nil
}

// Released reports whether Release has been called.
func (p *RawPayload) Released() bool {
	return p == nil || p.data == nil
}
