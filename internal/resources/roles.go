package resources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bmr-systems/bmr-admin/internal/apiclient"
	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/validate"
)

const roleNameRule = "required,min=2,max=150"

// RoleInput creates or renames a role.
type RoleInput struct {
	Name        string `json:"name"`
	Permissions []int  `json:"permissions,omitempty"`
}

// Roles manages permission groups and their permission sets.
type Roles struct {
	*repository.Repository[Role]
}

func NewRoles(client repository.Client, opts ...repository.Option) *Roles {
	return &Roles{Repository: repository.New[Role](client, MustLookup("roles").Path, opts...)}
}

// ValidateName checks a role name before it is sent.
func ValidateName(name string) error {
	if msgs := validate.Value(strings.TrimSpace(name), roleNameRule); len(msgs) > 0 {
		return apierr.Invalid(map[string][]string{"name": msgs})
	}
	return nil
}

func (r *Roles) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := ValidateName(in.Name); err != nil {
		return nil, err
	}
	return r.Create(ctx, in)
}

func (r *Roles) Rename(ctx context.Context, id int, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, map[string]string{"name": name})
}

// Permissions returns the permissions granted to role id.
func (r *Roles) Permissions(ctx context.Context, id int) ([]Permission, error) {
	if id == 0 {
		return nil, fmt.Errorf("role permissions: %w", repository.ErrMissingID)
	}
	raw, err := r.Raw(ctx, apiclient.Request{Method: http.MethodGet, Path: r.Path(strconv.Itoa(id), "permissions")})
	if err != nil {
		return nil, err
	}
	res, err := repository.DecodeList[Permission](raw)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// SetPermissions replaces the permission set of role id.
func (r *Roles) SetPermissions(ctx context.Context, id int, permissionIDs []int) (*Role, error) {
	if id == 0 {
		return nil, fmt.Errorf("set role permissions: %w", repository.ErrMissingID)
	}
	if permissionIDs == nil {
		permissionIDs = []int{}
	}
	raw, err := r.Raw(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   r.Path(strconv.Itoa(id), "permissions"),
		Body:   map[string][]int{"permissions": permissionIDs},
	})
	if err != nil {
		return nil, err
	}
	return repository.DecodeItem[Role](raw)
}
