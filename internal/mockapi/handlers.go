package mockapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxBodyBytes    = 1 << 20
)

// Page is a token-paginated list response.
type Page struct {
	Items             []Widget `json:"items"`
	ContinuationToken *string  `json:"continuationToken"`
}

// LinkPage is a next-link paginated list response.
type LinkPage struct {
	Value    []Widget `json:"value"`
	NextLink *string  `json:"nextLink"`
}

// Embedding is the feature vector of a widget.
type Embedding struct {
	Vector []int `json:"vector"`
}

// Analysis is the result of analyzing a widget.
type Analysis struct {
	Summary    string  `json:"summary"`
	Score      float64 `json:"score"`
	AnalyzedAt string  `json:"analyzedAt"`
}

type handlers struct {
	store    *Store
	versions []string
	now      func() time.Time
}

func widgetName(r *http.Request) string {
	return chi.URLParam(r, "widgetName")
}

// since reports whether the request's version is at or after first.
func (h *handlers) since(r *http.Request, first string) bool {
	return slices.Index(h.versions, VersionFrom(r.Context())) >= slices.Index(h.versions, first)
}

func (h *handlers) getWidget(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	widget, tag, ok := h.store.Get(name)
	if !ok {
		WriteNotFound(w, name)
		return
	}
	w.Header().Set("ETag", tag)
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	WriteJSON(w, http.StatusOK, h.shape(r, widget))
}

func (h *handlers) createWidget(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	var widget Widget
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&widget); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "body is not a widget: "+err.Error())
		return
	}
	if widget.Name != "" && widget.Name != name {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("body name %q does not match path", widget.Name))
		return
	}
	widget.Name = name
	stamp := h.now().UTC().Truncate(time.Second)
	widget.CreatedAt = &stamp

	created, err := h.store.Create(widget)
	if err != nil {
		WriteError(w, http.StatusConflict, CodeConflict, "widget "+name+" already exists")
		return
	}
	_, tag, _ := h.store.Get(name)
	w.Header().Set("ETag", tag)
	WriteJSON(w, http.StatusCreated, h.shape(r, created))
}

func (h *handlers) deleteWidget(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	if !h.store.Delete(name) {
		WriteNotFound(w, name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listWidgets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, ok := pageSize(w, q)
	if !ok {
		return
	}
	filter := q.Get("filter")
	if filter != "" && !h.since(r, "v2") {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "filter requires api-version v2")
		return
	}

	offset := 0
	if token := q.Get("continuationToken"); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid continuation token")
			return
		}
		offset = n
	}

	all := h.store.List(filter)
	items, next := window(all, offset, size)
	page := Page{Items: h.shapeAll(r, items)}
	if next < len(all) {
		token := strconv.Itoa(next)
		page.ContinuationToken = &token
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *handlers) listWidgetsByLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, ok := pageSize(w, q)
	if !ok {
		return
	}
	pageNo := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, CodeBadRequest, "invalid page")
			return
		}
		pageNo = n
	}

	all := h.store.List("")
	items, next := window(all, (pageNo-1)*size, size)
	page := LinkPage{Value: h.shapeAll(r, items)}
	if next < len(all) {
		link := url.Values{
			APIVersionParam: {VersionFrom(r.Context())},
			"maxpagesize":   {strconv.Itoa(size)},
			"page":          {strconv.Itoa(pageNo + 1)},
		}
		s := "/pages/widgets?" + link.Encode()
		page.NextLink = &s
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *handlers) getColor(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	widget, _, ok := h.store.Get(name)
	if !ok {
		WriteNotFound(w, name)
		return
	}
	WriteJSON(w, http.StatusOK, widget.Color)
}

func (h *handlers) putColor(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	var color string
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&color); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "body must be a JSON string")
		return
	}
	if !h.store.SetColor(name, color) {
		WriteNotFound(w, name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getEmbedding(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	if _, _, ok := h.store.Get(name); !ok {
		WriteNotFound(w, name)
		return
	}
	vector := make([]int, 0, len(name))
	for _, c := range name {
		vector = append(vector, int(c))
	}
	WriteJSON(w, http.StatusOK, Embedding{Vector: vector})
}

func (h *handlers) getLabel(w http.ResponseWriter, r *http.Request) {
	name := widgetName(r)
	widget, _, ok := h.store.Get(name)
	if !ok {
		WriteNotFound(w, name)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "WIDGET %s (%s)\n", widget.Name, widget.Color)
}

func (h *handlers) analyzeWidget(w http.ResponseWriter, r *http.Request) {
	if !h.since(r, "v2") {
		WriteError(w, http.StatusNotFound, CodeNotFound, "analyze is not available in "+VersionFrom(r.Context()))
		return
	}
	name := widgetName(r)
	widget, _, ok := h.store.Get(name)
	if !ok {
		WriteNotFound(w, name)
		return
	}
	parts := 0
	for _, p := range widget.Parts {
		parts += p.Quantity
	}
	WriteJSON(w, http.StatusOK, Analysis{
		Summary:    fmt.Sprintf("%s has %d parts", widget.Name, parts),
		Score:      float64(len(widget.Parts)) / 10,
		AnalyzedAt: h.now().UTC().Format(http.TimeFormat),
	})
}

// shape drops fields the request's version does not know about.
func (h *handlers) shape(r *http.Request, w Widget) Widget {
	if !h.since(r, "v2") {
		w.Description = ""
	}
	return w
}

func (h *handlers) shapeAll(r *http.Request, ws []Widget) []Widget {
	out := make([]Widget, len(ws))
	for i, w := range ws {
		out[i] = h.shape(r, w)
	}
	return out
}

func pageSize(w http.ResponseWriter, q url.Values) (int, bool) {
	raw := q.Get("maxpagesize")
	if raw == "" {
		return defaultPageSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPageSize {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("maxpagesize must be between 1 and %d", maxPageSize))
		return 0, false
	}
	return n, true
}

// window returns up to size items starting at offset and the offset of the
// following page.
func window(all []Widget, offset, size int) ([]Widget, int) {
	if offset >= len(all) {
		return []Widget{}, len(all)
	}
	end := min(offset+size, len(all))
	return all[offset:end], end
}
