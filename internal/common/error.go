package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
)

var (
	ErrCourseMenuNotFound       = fmt.Errorf("course menu not found")
	ErrContentListNotFound      = fmt.Errorf("content list not found")
	ErrAnnouncementListNotFound = fmt.Errorf("announcement list not found")
)

// Error kinds recorded in FileOutcome.ErrorType.
const (
	KindNetwork    = "NetworkError"
	KindParse      = "ParseError"
	KindFilesystem = "FilesystemError"
	KindUnknown    = "UnknownError"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Classify maps an error to its kind for outcome records. Network failures
// need re-authentication rather than re-fetch, so they must stay
// distinguishable from local ones.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var (
		statusErr *StatusError
		urlErr    *url.Error
		netErr    net.Error
		pathErr   *fs.PathError
	)

	switch {
	case errors.As(err, &statusErr), errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	case errors.Is(err, ErrCourseMenuNotFound), errors.Is(err, ErrContentListNotFound),
		errors.Is(err, ErrAnnouncementListNotFound):
		return KindParse
	case errors.As(err, &pathErr):
		return KindFilesystem
	}

	return KindUnknown
}
