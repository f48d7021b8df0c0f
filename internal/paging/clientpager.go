package paging

import "github.com/ehr/fhirgateway/internal/platform/apperror"

// Paginate slices an ordered in-memory list into page pageNumber of
// pageSize items. A page number below 1 means the first page. A page past the
// end has no items but keeps the list's totals.
func Paginate[T any](items []T, pageNumber, pageSize int) Page[T] {
	if pageSize < 1 {
		pageSize = 1
	}
	pageNumber = clampPage(pageNumber)

	start := (pageNumber - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	slice := make([]T, end-start)
	copy(slice, items[start:end])

	return Page[T]{
		Items:       slice,
		PageSize:    pageSize,
		TotalPages:  TotalPages(len(items), pageSize),
		CurrentPage: pageNumber,
		ItemCount:   len(slice),
		TotalItems:  len(items),
	}
}

// All returns the whole list as a single page (show-all mode).
func All[T any](items []T) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:       items,
		PageSize:    len(items),
		TotalPages:  TotalPages(len(items), len(items)),
		CurrentPage: 1,
		ItemCount:   len(items),
		TotalItems:  len(items),
	}
}

// Slice pages an in-memory result with the same rules as a remote search:
// show-all returns everything, an empty list is an empty page, and a page
// past the end is NotFound.
func Slice[T any](items []T, pageNumber, pageSize int, showAll bool) (Page[T], error) {
	if showAll {
		return All(items), nil
	}
	if len(items) == 0 {
		return EmptyPage[T](pageNumber, pageSize), nil
	}
	page := Paginate(items, pageNumber, pageSize)
	if page.CurrentPage > page.TotalPages {
		return Page[T]{}, apperror.NotFound("page out of range: page %d of %d", page.CurrentPage, page.TotalPages)
	}
	return page, nil
}
