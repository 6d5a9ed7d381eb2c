package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/bmr-systems/bmr-admin/internal/repository"
)

// Bulk operations a Bulk module accepts.
const (
	BulkDelete     = "delete"
	BulkActivate   = "activate"
	BulkDeactivate = "deactivate"
)

var bulkOps = []string{BulkDelete, BulkActivate, BulkDeactivate}

// BulkOps lists the bulk operations the module supports.
func (m Module) BulkOps() []string {
	if !m.Bulk {
		return nil
	}
	return slices.Clone(bulkOps)
}

// Catalog holds a typed repository per module.
type Catalog struct {
	EventCategories       *repository.Repository[EventCategory]
	EventSubCategories    *repository.Repository[EventSubCategory]
	Events                *repository.Repository[Event]
	EventMedia            *EventMediaRepo
	EventMediaInfo        *repository.Repository[EventMediaInfo]
	PostCategories        *repository.Repository[PostCategory]
	Posts                 *repository.Repository[Post]
	DonationCategories    *repository.Repository[DonationCategory]
	DonationSubCategories *repository.Repository[DonationSubCategory]
	Memberships           *Memberships
	Roles                 *Roles
	Permissions           *repository.Repository[Permission]
	Users                 *repository.Repository[User]
	AssociationPosts      *repository.Repository[AssociationPost]

	client repository.Client
	opts   []repository.Option
}

func NewCatalog(client repository.Client, opts ...repository.Option) *Catalog {
	path := func(name string) string { return MustLookup(name).Path }
	return &Catalog{
		EventCategories:       repository.New[EventCategory](client, path("event-categories"), opts...),
		EventSubCategories:    repository.New[EventSubCategory](client, path("event-subcategories"), opts...),
		Events:                repository.New[Event](client, path("events"), opts...),
		EventMedia:            NewEventMedia(client, opts...),
		EventMediaInfo:        repository.New[EventMediaInfo](client, path("event-media-info"), opts...),
		PostCategories:        repository.New[PostCategory](client, path("post-categories"), opts...),
		Posts:                 repository.New[Post](client, path("posts"), opts...),
		DonationCategories:    repository.New[DonationCategory](client, path("donation-categories"), opts...),
		DonationSubCategories: repository.New[DonationSubCategory](client, path("donation-subcategories"), opts...),
		Memberships:           NewMemberships(client, opts...),
		Roles:                 NewRoles(client, opts...),
		Permissions:           repository.New[Permission](client, path("permissions"), opts...),
		Users:                 repository.New[User](client, path("users"), opts...),
		AssociationPosts:      repository.New[AssociationPost](client, path("association-posts"), opts...),
		client:                client,
		opts:                  opts,
	}
}

// Records returns the untyped repository of the named module.
func (c *Catalog) Records(name string) (*repository.Repository[Record], error) {
	m, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	return m.Records(c.client, c.opts...), nil
}

// Bulk runs op over ids in the named module.
func (c *Catalog) Bulk(ctx context.Context, name, op string, ids []int) (json.RawMessage, error) {
	m, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", name)
	}
	if !slices.Contains(m.BulkOps(), op) {
		return nil, fmt.Errorf("%s does not support bulk %s", name, op)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("bulk %s: no ids given", op)
	}
	return m.Records(c.client, c.opts...).BulkOperation(ctx, op, ids, nil)
}
