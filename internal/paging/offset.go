package paging

import (
	"context"
	"errors"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
)

// errOffsetUnsupported means the first page lacks the total or bundle id the
// offset contract needs. Pager falls back to aggregation.
var errOffsetUnsupported = errors.New("remote search does not support offset paging")

// Offset returns the zero-based offset of a 1-based page.
func Offset(pageNumber, pageSize int) int {
	return (clampPage(pageNumber) - 1) * pageSize
}

// OffsetPageLocator jumps directly to any page of a search the server has
// retained, instead of hopping through next links.
type OffsetPageLocator struct {
	remote Remote
}

func NewOffsetPageLocator(remote Remote) *OffsetPageLocator {
	return &OffsetPageLocator{remote: remote}
}

// Locate returns page pageNumber of the search whose first page is first.
// An offset at or past the reported total fails with NotFound before any
// request is sent; page 1 is first itself.
func (l *OffsetPageLocator) Locate(ctx context.Context, first *fhir.Bundle, pageNumber, pageSize int) (*fhir.Bundle, error) {
	total, ok := first.TotalItems()
	if !ok {
		return nil, errOffsetUnsupported
	}
	offset := Offset(pageNumber, pageSize)
	if offset >= total {
		return nil, apperror.NotFound("page out of range: page %d of %d", clampPage(pageNumber), TotalPages(total, pageSize))
	}
	if offset == 0 {
		return first, nil
	}
	if first.ID == "" {
		return nil, errOffsetUnsupported
	}
	return l.remote.GetPages(ctx, first.ID, offset, pageSize)
}
