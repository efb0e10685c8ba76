package machofmt

import "errors"

var (
	// ErrBadMagic is returned when the header's magic does not match
	// Magic64 (§7 "invalid_argument").
	ErrBadMagic = errors.New("machofmt: bad magic")
	// ErrShortRead covers any fixed-size structure truncated by a
	// short buffer (§7 "unknown ... short read from file").
	ErrShortRead = errors.New("machofmt: short read")
	// ErrUnsupportedFileType is returned for a header Type other than
	// execute/dylib/dylinker (§6 "Supported file types").
	ErrUnsupportedFileType = errors.New("machofmt: unsupported file type")
)
