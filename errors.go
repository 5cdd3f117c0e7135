package cmaf

import "fmt"

// UnsupportedFormatError reports an input construct outside the subset of
// fragmented tracks this engine round-trips. It is a hard failure: the run
// aborts and no output is produced.
type UnsupportedFormatError struct {
	Path   string // dotted box path, e.g. "moof.traf.trun"
	Detail string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Path == "" {
		return "unsupported format: " + e.Detail
	}
	return fmt.Sprintf("unsupported format in %s: %s", e.Path, e.Detail)
}

func unsupportedf(path, format string, args ...any) error {
	return &UnsupportedFormatError{Path: path, Detail: fmt.Sprintf(format, args...)}
}
