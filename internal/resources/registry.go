// Package resources describes the back-office modules: their collection
// paths, display columns and the typed models and extra endpoints they expose.
package resources

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bmr-systems/bmr-admin/internal/repository"
)

// Module is one REST collection the console manages.
type Module struct {
	Name        string
	Path        string
	Title       string
	TitleField  string
	Columns     []string
	Publishable bool
	Activatable bool
	Bulk        bool
	// Wrapped collections answer lists with {success, data:{results, pagination}}
	// instead of the raw DRF page.
	Wrapped bool
}

var modules = []Module{
	{Name: "event-categories", Path: "/api/events/categories/", Title: "Event Categories", TitleField: "title",
		Columns: []string{"id", "title", "is_active", "created_at"}, Activatable: true, Bulk: true},
	{Name: "event-subcategories", Path: "/api/events/subcategories/", Title: "Event Sub Categories", TitleField: "title",
		Columns: []string{"id", "title", "event_category_title", "is_active"}, Activatable: true, Bulk: true},
	{Name: "events", Path: "/api/events/events/", Title: "Events", TitleField: "title",
		Columns: []string{"id", "title", "location", "start_date", "is_published"}, Publishable: true, Activatable: true},
	{Name: "event-media", Path: "/api/events/event-media/", Title: "Event Media", TitleField: "title",
		Columns: []string{"id", "title", "file_type", "file_name", "downloaded_count"}, Activatable: true},
	{Name: "event-media-info", Path: "/api/events/event-media-info/", Title: "Event Media Info", TitleField: "title",
		Columns: []string{"id", "title", "event", "is_active"}, Activatable: true},
	{Name: "post-categories", Path: "/api/posts/categories/", Title: "Post Categories", TitleField: "title",
		Columns: []string{"id", "title", "is_menu", "is_active"}, Activatable: true, Bulk: true},
	{Name: "posts", Path: "/api/posts/", Title: "Posts", TitleField: "title",
		Columns: []string{"id", "title", "post_category", "is_published", "published_at"}, Publishable: true, Activatable: true},
	{Name: "donation-categories", Path: "/api/donations/categories/", Title: "Donation Categories", TitleField: "title",
		Columns: []string{"id", "title", "is_date_required", "is_active"}, Activatable: true, Bulk: true, Wrapped: true},
	{Name: "donation-subcategories", Path: "/api/donations/subcategories/", Title: "Donation Sub Categories", TitleField: "title",
		Columns: []string{"id", "title", "donation_category", "amount", "is_active"}, Activatable: true, Bulk: true, Wrapped: true},
	{Name: "memberships", Path: "/api/membership/", Title: "Memberships", TitleField: "reference_no",
		Columns: []string{"uuid", "reference_no", "user", "membership_type_name", "workflow_status_name"}, Wrapped: true},
	{Name: "roles", Path: "/api/auth/groups/", Title: "Roles", TitleField: "name",
		Columns: []string{"id", "name", "user_count"}, Wrapped: true},
	{Name: "permissions", Path: "/api/auth/permissions/", Title: "Permissions", TitleField: "name",
		Columns: []string{"id", "name", "codename", "app_label"}, Wrapped: true},
	{Name: "users", Path: "/api/auth/users/", Title: "Users", TitleField: "email",
		Columns: []string{"id", "email", "username", "group_name", "is_active", "is_staff"}, Activatable: true, Bulk: true, Wrapped: true},
	{Name: "association-posts", Path: "/api/association/posts/", Title: "Association Posts", TitleField: "title",
		Columns: []string{"id", "title", "is_published", "is_active"}, Publishable: true, Activatable: true},
}

// All returns every registered module in registration order.
func All() []Module {
	out := make([]Module, len(modules))
	copy(out, modules)
	return out
}

// Names returns the module names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a module by name.
func Lookup(name string) (Module, bool) {
	for _, m := range modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Module {
	m, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("resources: unknown module %q", name))
	}
	return m
}

// Records returns an untyped repository for the module.
func (m Module) Records(client repository.Client, opts ...repository.Option) *repository.Repository[Record] {
	return repository.New[Record](client, m.Path, opts...)
}

// Row formats rec into the module's display columns.
func (m Module) Row(rec Record) []string {
	row := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		row[i] = rec.String(col)
	}
	return row
}

// Headers returns the display column headers.
func (m Module) Headers() []string {
	headers := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		headers[i] = strings.ToUpper(strings.ReplaceAll(col, "_", " "))
	}
	return headers
}

func formatCell(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		for _, key := range []string{"title", "name", "email"} {
			if s, ok := t[key].(string); ok {
				return s
			}
		}
	}
	return fmt.Sprint(v)
}
