// Package fhirtest provides an in-memory FHIR server for tests. It implements
// the subset of the REST API the gateway relies on: type-level search with
// _count, server-retained result sets addressed through _getpages, read,
// create and update. Every interaction is counted so tests can assert on the
// number of remote calls.
package fhirtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/fhirgateway/internal/platform/fhir"
)

// Interaction names used by Count.
const (
	InteractionSearch   = "search"
	InteractionGetPages = "getpages"
	InteractionRead     = "read"
	InteractionCreate   = "create"
	InteractionUpdate   = "update"
)

// Server is an in-memory FHIR server backed by httptest.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	order     map[string][]string                     // type -> ids in insertion order
	resources map[string]map[string]json.RawMessage   // type -> id -> resource
	retained  map[string][]json.RawMessage            // bundle id -> matches
	cursors   map[string]int                          // opaque cursor -> offset
	counts    map[string]int
	reads     map[string]int
	failures  map[string]int
	overrides map[string]http.HandlerFunc

	// DefaultCount is the page size used when _count is absent.
	DefaultCount int
	// MaxCount caps _count.
	MaxCount int
	// OmitTotal suppresses Bundle.total on every page.
	OmitTotal bool
	// OpaqueCursors makes next links carry a random token instead of an offset.
	OpaqueCursors bool
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		order:        make(map[string][]string),
		resources:    make(map[string]map[string]json.RawMessage),
		retained:     make(map[string][]json.RawMessage),
		cursors:      make(map[string]int),
		counts:       make(map[string]int),
		reads:        make(map[string]int),
		failures:     make(map[string]int),
		overrides:    make(map[string]http.HandlerFunc),
		DefaultCount: 10,
		MaxCount:     1000,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the service base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Add stores resources of the given type. Each value is marshalled to JSON;
// a missing id is assigned. It returns the ids in order.
func (s *Server) Add(resourceType string, resources ...any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		data, err := json.Marshal(r)
		if err != nil {
			panic(fmt.Sprintf("fhirtest: marshal %s: %v", resourceType, err))
		}
		id, stored := s.storeLocked(resourceType, "", data)
		if stored == nil {
			panic(fmt.Sprintf("fhirtest: %s is not a JSON object", resourceType))
		}
		ids = append(ids, id)
	}
	return ids
}

// Resource returns the stored resource, if any.
func (s *Server) Resource(resourceType, id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[resourceType][id]
	return r, ok
}

// Count returns how many requests of one interaction the server handled.
func (s *Server) Count(interaction string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[interaction]
}

// ReadCount returns how many times one resource was read.
func (s *Server) ReadCount(resourceType, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[resourceType+"/"+id]
}

// Total returns the number of requests of any interaction.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

// ResetCounts clears all request counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
	s.reads = make(map[string]int)
}

// Fail makes every subsequent request of the interaction answer with status.
// A zero status clears the failure.
func (s *Server) Fail(interaction string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, interaction)
		return
	}
	s.failures[interaction] = status
}

// SetHandler overrides the handling of one interaction.
func (s *Server) SetHandler(interaction string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[interaction] = h
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		parts = nil
	}

	var interaction string
	switch {
	case r.Method == http.MethodGet && len(parts) == 0 && r.URL.Query().Get("_getpages") != "":
		interaction = InteractionGetPages
	case r.Method == http.MethodGet && len(parts) == 1:
		interaction = InteractionSearch
	case r.Method == http.MethodGet && len(parts) == 2:
		interaction = InteractionRead
	case r.Method == http.MethodPost && len(parts) == 1:
		interaction = InteractionCreate
	case r.Method == http.MethodPut && len(parts) == 2:
		interaction = InteractionUpdate
	default:
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeNotSupported, "unsupported interaction "+r.Method+" "+r.URL.Path)
		return
	}

	s.mu.Lock()
	s.counts[interaction]++
	if interaction == InteractionRead {
		s.reads[parts[0]+"/"+parts[1]]++
	}
	status := s.failures[interaction]
	override := s.overrides[interaction]
	s.mu.Unlock()

	if status != 0 {
		writeOutcome(w, status, fhir.IssueTypeTransient, "injected failure")
		return
	}
	if override != nil {
		override(w, r)
		return
	}

	switch interaction {
	case InteractionGetPages:
		s.getPages(w, r)
	case InteractionSearch:
		s.search(w, r, parts[0])
	case InteractionRead:
		s.read(w, parts[0], parts[1])
	case InteractionCreate:
		s.create(w, r, parts[0])
	case InteractionUpdate:
		s.update(w, r, parts[0], parts[1])
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, resourceType string) {
	q := r.URL.Query()
	count, err := s.pageSize(q)
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, err.Error())
		return
	}

	s.mu.Lock()
	var matches []json.RawMessage
	for _, id := range s.order[resourceType] {
		res := s.resources[resourceType][id]
		if Matches(res, q) {
			matches = append(matches, res)
		}
	}
	bundleID := uuid.New().String()
	s.retained[bundleID] = matches
	s.mu.Unlock()

	s.writePage(w, bundleID, matches, 0, count)
}

func (s *Server) getPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bundleID := q.Get("_getpages")

	s.mu.Lock()
	matches, ok := s.retained[bundleID]
	offset := 0
	if cursor := q.Get("_cursor"); cursor != "" {
		var found bool
		offset, found = s.cursors[cursor]
		ok = ok && found
	}
	s.mu.Unlock()
	if !ok {
		writeOutcome(w, http.StatusGone, fhir.IssueTypeNotFound, "search "+bundleID+" has expired or does not exist")
		return
	}

	if raw := q.Get("_getpagesoffset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, "invalid _getpagesoffset")
			return
		}
		offset = n
	}
	count, err := s.pageSize(q)
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, err.Error())
		return
	}
	s.writePage(w, bundleID, matches, offset, count)
}

func (s *Server) pageSize(q url.Values) (int, error) {
	count := s.DefaultCount
	if raw := q.Get("_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid _count %q", raw)
		}
		count = n
	}
	if s.MaxCount > 0 && count > s.MaxCount {
		count = s.MaxCount
	}
	return count, nil
}

func (s *Server) writePage(w http.ResponseWriter, bundleID string, matches []json.RawMessage, offset, count int) {
	end := offset + count
	if offset > len(matches) {
		offset = len(matches)
	}
	if end > len(matches) {
		end = len(matches)
	}
	page := matches[offset:end]

	params := fhir.SearchBundleParams{
		ID:      bundleID,
		Total:   len(matches),
		SelfURL: s.pageLink(bundleID, offset, count, false),
	}
	if end < len(matches) && count > 0 {
		params.NextURL = s.pageLink(bundleID, end, count, s.OpaqueCursors)
	}
	if offset > 0 {
		prev := offset - count
		if prev < 0 {
			prev = 0
		}
		params.PrevURL = s.pageLink(bundleID, prev, count, false)
	}

	bundle := fhir.NewSearchBundle(page, params)
	for i := range bundle.Entry {
		if bundle.Entry[i].FullURL != "" {
			bundle.Entry[i].FullURL = s.srv.URL + "/" + bundle.Entry[i].FullURL
		}
	}
	if s.OmitTotal {
		bundle.Total = nil
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) pageLink(bundleID string, offset, count int, opaque bool) string {
	q := url.Values{}
	q.Set("_getpages", bundleID)
	if opaque {
		token := uuid.New().String()
		s.mu.Lock()
		s.cursors[token] = offset
		s.mu.Unlock()
		q.Set("_cursor", token)
	} else {
		q.Set("_getpagesoffset", strconv.Itoa(offset))
	}
	q.Set("_count", strconv.Itoa(count))
	q.Set("_bundletype", "searchset")
	return s.srv.URL + "?" + q.Encode()
}

func (s *Server) read(w http.ResponseWriter, resourceType, id string) {
	s.mu.Lock()
	res, ok := s.resources[resourceType][id]
	s.mu.Unlock()
	if !ok {
		writeOutcome(w, http.StatusNotFound, fhir.IssueTypeNotFound, fmt.Sprintf("%s/%s not found", resourceType, id))
		return
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(http.StatusOK)
	w.Write(res)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, resourceType string) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, "invalid JSON body")
		return
	}

	s.mu.Lock()
	id, stored := s.storeLocked(resourceType, uuid.New().String(), body)
	s.mu.Unlock()
	if stored == nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, "body must be a JSON object")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s/%s/_history/1", s.srv.URL, resourceType, id))
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(http.StatusCreated)
	w.Write(stored)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, "invalid JSON body")
		return
	}

	s.mu.Lock()
	_, existed := s.resources[resourceType][id]
	_, stored := s.storeLocked(resourceType, id, body)
	s.mu.Unlock()
	if stored == nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, "body must be a JSON object")
		return
	}

	status := http.StatusOK
	if !existed {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	w.Write(stored)
}

// storeLocked normalizes resourceType and id on the object and saves it.
// A non-empty id overrides the one in data. It returns a nil resource when
// data is not an object.
func (s *Server) storeLocked(resourceType, id string, data []byte) (string, json.RawMessage) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return "", nil
	}
	if id == "" {
		id, _ = obj["id"].(string)
	}
	if id == "" {
		id = uuid.New().String()
	}
	obj["id"] = id
	obj["resourceType"] = resourceType

	stored, _ := json.Marshal(obj)
	if s.resources[resourceType] == nil {
		s.resources[resourceType] = make(map[string]json.RawMessage)
	}
	if _, exists := s.resources[resourceType][id]; !exists {
		s.order[resourceType] = append(s.order[resourceType], id)
	}
	s.resources[resourceType][id] = stored
	return id, stored
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOutcome(w http.ResponseWriter, status int, code, diagnostics string) {
	severity := fhir.IssueSeverityError
	writeJSON(w, status, fhir.NewOperationOutcome(severity, code, diagnostics))
}

// sortedKeys is used to give search matching a stable evaluation order.
func sortedKeys(q url.Values) []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
