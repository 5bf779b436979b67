package vectorstore

import "github.com/pario-ai/simcache/pkg/models"

// Filter restricts a search to records whose metadata matches every set
// field exactly. The zero Filter matches everything.
type Filter struct {
	TenantID string
	UserID   string
	Provider string
	Model    string
}

// NewFilter returns an empty filter.
func NewFilter() Filter {
	return Filter{}
}

// WithTenant scopes the filter to a tenant. An empty id leaves it unscoped.
func (f Filter) WithTenant(id string) Filter {
	f.TenantID = id
	return f
}

// WithUser scopes the filter to a user.
func (f Filter) WithUser(id string) Filter {
	f.UserID = id
	return f
}

// WithProvider scopes the filter to an upstream provider.
func (f Filter) WithProvider(name string) Filter {
	f.Provider = name
	return f
}

// WithModel scopes the filter to an upstream model.
func (f Filter) WithModel(name string) Filter {
	f.Model = name
	return f
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return f == Filter{}
}

// Matches reports whether md satisfies the filter.
func (f Filter) Matches(md models.Metadata) bool {
	return (f.TenantID == "" || f.TenantID == md.TenantID) &&
		(f.UserID == "" || f.UserID == md.UserID) &&
		(f.Provider == "" || f.Provider == md.Provider) &&
		(f.Model == "" || f.Model == md.Model)
}
