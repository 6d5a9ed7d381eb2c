package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/resources"
)

// Query parameters that never act as field filters.
var controlParams = map[string]bool{
	"page":     true,
	"per_page": true,
	"search":   true,
	"ordering": true,
}

func (s *Server) collectionHandler(m resources.Module) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, m.Path), "/")
		parts := strings.Split(rest, "/")
		if rest == "" {
			parts = nil
		}

		switch {
		case len(parts) == 0 && r.Method == http.MethodGet:
			s.list(w, r, m)
		case len(parts) == 0 && r.Method == http.MethodPost:
			s.create(w, r, m)
		case len(parts) == 1 && strings.HasPrefix(parts[0], "bulk_") && r.Method == http.MethodPost:
			s.bulk(w, r, m, strings.TrimPrefix(parts[0], "bulk_"))
		case len(parts) == 1 && parts[0] == "upload" && r.Method == http.MethodPost:
			s.create(w, r, m)
		case len(parts) == 1:
			s.itemMethod(w, r, m, parts[0])
		case len(parts) == 2 && parts[1] == "upload" && r.Method == http.MethodPost:
			s.attach(w, r, m, parts[0])
		case len(parts) == 2 && parts[1] == "permissions" && m.Name == "roles":
			s.rolePermissions(w, r, parts[0])
		default:
			detail(w, http.StatusNotFound, "Not found.")
		}
	})
}

func (s *Server) itemMethod(w http.ResponseWriter, r *http.Request, m resources.Module, key string) {
	switch r.Method {
	case http.MethodGet:
		it, found := s.store.get(m.Name, key)
		if !found {
			detail(w, http.StatusNotFound, "Not found.")
			return
		}
		s.writeItem(w, m, http.StatusOK, it, "")
	case http.MethodPatch, http.MethodPut:
		fields, err := readFields(r)
		if err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		it, err := s.store.update(m.Name, key, fields, r.Method == http.MethodPut)
		if err != nil {
			s.writeStoreError(w, m, err)
			return
		}
		s.writeItem(w, m, http.StatusOK, it, m.Title+" updated successfully")
	case http.MethodDelete:
		if !s.store.remove(m.Name, key) {
			detail(w, http.StatusNotFound, "Not found.")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		detail(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method \"%s\" not allowed.", r.Method))
	}
}

// list answers a raw DRF page, or the pre-computed wrapped pagination for
// modules that use it.
func (s *Server) list(w http.ResponseWriter, r *http.Request, m resources.Module) {
	q := r.URL.Query()
	filters := make(map[string]string)
	for key := range q {
		if !controlParams[key] && q.Get(key) != "" {
			filters[key] = q.Get(key)
		}
	}
	all := s.store.query(m.Name, filters, q.Get("search"), q.Get("ordering"))

	page := positive(q.Get("page"), 1)
	perPage := min(positive(q.Get("per_page"), 30), maxPerPage)
	totalPages := int(math.Ceil(float64(len(all)) / float64(perPage)))
	if page > 1 && page > totalPages {
		detail(w, http.StatusNotFound, "Invalid page.")
		return
	}

	start := (page - 1) * perPage
	end := min(start+perPage, len(all))
	results := all[start:end]

	if m.Wrapped {
		info := map[string]any{
			"current_page":  page,
			"total_pages":   totalPages,
			"total_count":   len(all),
			"per_page":      perPage,
			"has_next":      page < totalPages,
			"has_previous":  page > 1,
			"next_page":     nil,
			"previous_page": nil,
		}
		if page < totalPages {
			info["next_page"] = page + 1
		}
		if page > 1 {
			info["previous_page"] = page - 1
		}
		ok(w, http.StatusOK, map[string]any{"results": results, "pagination": info}, "")
		return
	}

	body := map[string]any{
		"count":    len(all),
		"next":     nil,
		"previous": nil,
		"results":  results,
	}
	if page < totalPages {
		body["next"] = pageLink(r, page+1)
	}
	if page > 1 {
		body["previous"] = pageLink(r, page-1)
	}
	writeJSON(w, http.StatusOK, body)
}

// pageLink mirrors DRF: the link to page 1 carries no page parameter.
func pageLink(r *http.Request, page int) string {
	u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	q := r.URL.Query()
	if page == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, m resources.Module) {
	fields, err := readFields(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	it, err := s.store.insert(m.Name, fields)
	if err != nil {
		s.writeStoreError(w, m, err)
		return
	}
	s.writeItem(w, m, http.StatusCreated, it, m.Title+" created successfully")
}

// attach stores an uploaded file on an existing item.
func (s *Server) attach(w http.ResponseWriter, r *http.Request, m resources.Module, key string) {
	fields, err := readFields(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	it, err := s.store.update(m.Name, key, fields, false)
	if err != nil {
		s.writeStoreError(w, m, err)
		return
	}
	s.writeItem(w, m, http.StatusOK, it, "File uploaded successfully")
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request, m resources.Module, op string) {
	if !m.Bulk {
		detail(w, http.StatusNotFound, "Not found.")
		return
	}
	var req struct {
		IDs []int `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		fieldErrors(w, map[string][]string{"ids": {"This field is required."}})
		return
	}
	switch op {
	case resources.BulkDelete, resources.BulkActivate, resources.BulkDeactivate:
	default:
		detail(w, http.StatusNotFound, "Not found.")
		return
	}
	n := s.store.bulk(m.Name, op, req.IDs)
	ok(w, http.StatusOK, map[string]int{"affected": n}, fmt.Sprintf("%d %s %sd", n, strings.ToLower(m.Title), op))
}

func (s *Server) rolePermissions(w http.ResponseWriter, r *http.Request, key string) {
	role, found := s.store.get("roles", key)
	if !found {
		detail(w, http.StatusNotFound, "Not found.")
		return
	}
	switch r.Method {
	case http.MethodGet:
		perms, _ := role["permissions"].([]any)
		if perms == nil {
			perms = []any{}
		}
		ok(w, http.StatusOK, perms, "")
	case http.MethodPost:
		var req struct {
			Permissions []int `json:"permissions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fieldErrors(w, map[string][]string{"permissions": {"Expected a list of items."}})
			return
		}
		granted := make([]any, 0, len(req.Permissions))
		for _, id := range req.Permissions {
			p, found := s.store.get("permissions", strconv.Itoa(id))
			if !found {
				fieldErrors(w, map[string][]string{"permissions": {fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", id)}})
				return
			}
			granted = append(granted, p)
		}
		it, err := s.store.update("roles", key, item{"permissions": granted}, false)
		if err != nil {
			s.writeStoreError(w, resources.MustLookup("roles"), err)
			return
		}
		ok(w, http.StatusOK, it, "Permissions updated")
	default:
		detail(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}

// writeItem answers wrapped modules with the success envelope and the
// others with the bare object.
func (s *Server) writeItem(w http.ResponseWriter, m resources.Module, status int, it item, message string) {
	if m.Wrapped {
		ok(w, status, it, message)
		return
	}
	writeJSON(w, status, it)
}

func (s *Server) writeStoreError(w http.ResponseWriter, m resources.Module, err error) {
	var fe *fieldError
	switch {
	case errors.As(err, &fe):
		fieldErrors(w, map[string][]string{fe.field: {fe.msg}})
	case errors.Is(err, ErrDuplicateTitle):
		detail(w, http.StatusConflict, fmt.Sprintf("%s with this %s already exists.", m.Title, apierr.FieldLabel(m.TitleField)))
	case errors.Is(err, ErrItemNotFound):
		detail(w, http.StatusNotFound, "Not found.")
	default:
		fail(w, http.StatusInternalServerError, err.Error())
	}
}

// readFields decodes a JSON object or a multipart/urlencoded form. Files
// are recorded as media paths under their field name.
func readFields(r *http.Request) (item, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		fields := make(item)
		for key, vals := range r.MultipartForm.Value {
			fields[key] = formValue(vals[len(vals)-1])
		}
		for key, files := range r.MultipartForm.File {
			fields[key] = "/media/" + key + "/" + files[0].Filename
		}
		return nestDotted(fields), nil
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		fields := make(item)
		for key := range r.PostForm {
			fields[key] = formValue(r.PostForm.Get(key))
		}
		return nestDotted(fields), nil
	default:
		fields := make(item)
		if r.ContentLength == 0 {
			return fields, nil
		}
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, fmt.Errorf("JSON parse error - %v", err)
		}
		return fields, nil
	}
}

// formValue turns the boolean spellings forms send into booleans.
func formValue(v string) any {
	switch strings.ToLower(v) {
	case "true", "on":
		return true
	case "false", "off":
		return false
	}
	return v
}

// nestDotted folds "profile_info.full_name" keys into nested objects.
func nestDotted(fields item) item {
	out := make(item, len(fields))
	for key, v := range fields {
		parent, child, found := strings.Cut(key, ".")
		if !found {
			out[key] = v
			continue
		}
		nested, _ := out[parent].(map[string]any)
		if nested == nil {
			nested = make(map[string]any)
			out[parent] = nested
		}
		nested[child] = v
	}
	return out
}

func positive(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
