package paging

import (
	"context"

	"github.com/ehr/fhirgateway/internal/platform/apperror"
	"github.com/ehr/fhirgateway/internal/platform/fhir"
)

// CursorWalker yields the pages of one search in server order by following
// next links. Each page needs the link from the previous response, so pages
// are fetched strictly one after another. A walker cannot be restarted.
type CursorWalker struct {
	remote  Remote
	current *fhir.Bundle
	started bool
	done    bool
	seen    map[string]struct{}
	pages   int
}

// NewCursorWalker starts a walk at an already fetched first page.
func NewCursorWalker(remote Remote, start *fhir.Bundle) *CursorWalker {
	return &CursorWalker{
		remote:  remote,
		current: start,
		done:    start == nil,
		seen:    make(map[string]struct{}),
	}
}

// Next returns the next page. ok is false once the last page has been
// returned. Any error ends the walk.
func (w *CursorWalker) Next(ctx context.Context) (page *fhir.Bundle, ok bool, err error) {
	if w.done {
		return nil, false, nil
	}
	if !w.started {
		w.started = true
		w.pages++
		return w.current, true, nil
	}

	link := w.current.NextURL()
	if link == "" {
		w.done = true
		return nil, false, nil
	}
	if _, dup := w.seen[link]; dup {
		w.done = true
		return nil, false, apperror.RemoteUnavailable(nil, "next link %q repeated after %d pages", link, w.pages)
	}
	w.seen[link] = struct{}{}

	next, err := w.remote.Follow(ctx, link)
	if err != nil {
		w.done = true
		return nil, false, err
	}
	w.current = next
	w.pages++
	return next, true, nil
}

// Pages returns how many pages have been yielded so far.
func (w *CursorWalker) Pages() int {
	return w.pages
}
