// Package paging turns server-paginated remote search results into pages
// sized to the caller's request.
//
// Three strategies exist. CursorWalker follows server-issued next links in
// order. OffsetPageLocator jumps straight to a page using the server's offset
// contract. ResultAggregator walks every page into one in-memory list that
// Paginate then slices. Pager picks between the offset jump and the aggregate
// path for a request.
package paging

// Page is a bounded, ordered slice of a result set plus position metadata.
//
// When TotalItems is 0, Items is empty and TotalPages is 0. Otherwise
// CurrentPage never exceeds TotalPages.
type Page[T any] struct {
	Items       []T `json:"items"`
	PageSize    int `json:"page_size"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	ItemCount   int `json:"item_count"`
	TotalItems  int `json:"total_items"`
}

// TotalPages returns ceil(totalItems/pageSize).
func TotalPages(totalItems, pageSize int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}
	return (totalItems + pageSize - 1) / pageSize
}

// EmptyPage is the page returned by list calls that match nothing.
func EmptyPage[T any](pageNumber, pageSize int) Page[T] {
	return Page[T]{
		Items:       []T{},
		PageSize:    pageSize,
		CurrentPage: clampPage(pageNumber),
	}
}

func clampPage(pageNumber int) int {
	if pageNumber < 1 {
		return 1
	}
	return pageNumber
}
