package mockapi

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bmr-systems/bmr-admin/internal/resources"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrItemNotFound    = errors.New("item not found")
	ErrDuplicateTitle  = errors.New("duplicate title")
)

// Account is a user who can sign in to the mock backend.
type Account struct {
	ID              int      `json:"id"`
	Email           string   `json:"email"`
	Username        string   `json:"username"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	IsSuperuser     bool     `json:"is_superuser"`
	IsStaff         bool     `json:"is_staff"`
	IsActive        bool     `json:"is_active"`
	IsEmailVerified bool     `json:"is_email_verified"`
	GroupName       string   `json:"group_name,omitempty"`
	Permissions     []string `json:"permissions"`

	passwordHash []byte
}

type item = map[string]any

type collection struct {
	module resources.Module
	items  []item
	nextID int
}

type store struct {
	mu          sync.RWMutex
	accounts    map[int]*Account
	byEmail     map[string]*Account
	nextAccount int
	blacklist   map[string]bool
	collections map[string]*collection
	payments    map[string][]item
	now         func() time.Time
}

func newStore(now func() time.Time) *store {
	s := &store{
		accounts:    make(map[int]*Account),
		byEmail:     make(map[string]*Account),
		nextAccount: 1,
		blacklist:   make(map[string]bool),
		collections: make(map[string]*collection),
		payments:    make(map[string][]item),
		now:         now,
	}
	for _, m := range resources.All() {
		s.collections[m.Name] = &collection{module: m, nextID: 1}
	}
	return s
}

func (s *store) addAccount(a Account, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(a.Email)
	if _, exists := s.byEmail[email]; exists {
		return nil, ErrAccountExists
	}
	a.ID = s.nextAccount
	s.nextAccount++
	a.passwordHash = hash
	if a.Username == "" {
		a.Username, _, _ = strings.Cut(email, "@")
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}
	acc := &a
	s.accounts[acc.ID] = acc
	s.byEmail[email] = acc
	return acc, nil
}

func (s *store) authenticate(email, password string) (*Account, error) {
	s.mu.RLock()
	acc, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok || !acc.IsActive {
		return nil, ErrAccountNotFound
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

func (s *store) account(id int) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	return acc, ok
}

func (s *store) revoke(jti string) {
	s.mu.Lock()
	s.blacklist[jti] = true
	s.mu.Unlock()
}

func (s *store) revoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blacklist[jti]
}

func (s *store) collection(name string) *collection {
	return s.collections[name]
}

// insert adds a copy of fields and returns the stored item. The module's
// title field must be present and unique.
func (s *store) insert(name string, fields item) (item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[name]
	if err := c.checkTitle(fields, 0); err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339)
	it := item{"is_active": true}
	for k, v := range fields {
		it[k] = v
	}
	it["id"] = c.nextID
	if _, ok := it["uuid"]; !ok {
		it["uuid"] = uuid.NewString()
	}
	it["created_at"] = now
	it["modified_at"] = now
	c.nextID++
	c.items = append(c.items, it)
	return clone(it), nil
}

// update merges fields into the item, or replaces it when replace is set.
func (s *store) update(name, key string, fields item, replace bool) (item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collections[name]
	idx := c.find(key)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	current := c.items[idx]
	if err := c.checkTitle(fields, toInt(current["id"])); err != nil {
		return nil, err
	}

	next := current
	if replace {
		next = item{
			"id":         current["id"],
			"uuid":       current["uuid"],
			"created_at": current["created_at"],
			"is_active":  true,
		}
	}
	for k, v := range fields {
		if k == "id" || k == "uuid" {
			continue
		}
		next[k] = v
	}
	next["modified_at"] = s.now().UTC().Format(time.RFC3339)
	c.items[idx] = next
	return clone(next), nil
}

func (s *store) get(name, key string) (item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collections[name]
	idx := c.find(key)
	if idx < 0 {
		return nil, false
	}
	return clone(c.items[idx]), true
}

func (s *store) remove(name, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[name]
	idx := c.find(key)
	if idx < 0 {
		return false
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	return true
}

// bulk applies op to every id present and returns how many were affected.
func (s *store) bulk(name, op string, ids []int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[name]

	affected := 0
	for _, id := range ids {
		idx := c.find(strconv.Itoa(id))
		if idx < 0 {
			continue
		}
		switch op {
		case resources.BulkDelete:
			c.items = slices.Delete(c.items, idx, idx+1)
		case resources.BulkActivate:
			c.items[idx]["is_active"] = true
		case resources.BulkDeactivate:
			c.items[idx]["is_active"] = false
		default:
			continue
		}
		affected++
	}
	return affected
}

// query returns the items matching filters, ordered, as copies.
func (s *store) query(name string, filters map[string]string, search, ordering string) []item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collections[name]

	out := make([]item, 0, len(c.items))
	for _, it := range c.items {
		if !matches(it, filters) {
			continue
		}
		if search != "" && !c.matchesSearch(it, search) {
			continue
		}
		out = append(out, clone(it))
	}

	if ordering != "" {
		field := strings.TrimPrefix(ordering, "-")
		desc := strings.HasPrefix(ordering, "-")
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][field], out[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	return out
}

func (s *store) addPayment(membershipUUID string, p item) item {
	s.mu.Lock()
	defer s.mu.Unlock()
	p["uuid"] = uuid.NewString()
	s.payments[membershipUUID] = append(s.payments[membershipUUID], p)
	return clone(p)
}

func (s *store) paymentsOf(membershipUUID string) []item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]item, 0, len(s.payments[membershipUUID]))
	for _, p := range s.payments[membershipUUID] {
		out = append(out, clone(p))
	}
	return out
}

func (c *collection) find(key string) int {
	id, err := strconv.Atoi(key)
	for i, it := range c.items {
		if err == nil && toInt(it["id"]) == id {
			return i
		}
		if err != nil && it["uuid"] == key {
			return i
		}
	}
	return -1
}

func (c *collection) checkTitle(fields item, selfID int) error {
	field := c.module.TitleField
	title, present := fields[field]
	if !present {
		if selfID != 0 {
			return nil
		}
		return &fieldError{field: field, msg: "This field is required."}
	}
	text := strings.TrimSpace(fmt.Sprint(title))
	if title == nil || text == "" {
		return &fieldError{field: field, msg: "This field may not be blank."}
	}
	for _, it := range c.items {
		if toInt(it["id"]) != selfID && strings.EqualFold(fmt.Sprint(it[field]), text) {
			return ErrDuplicateTitle
		}
	}
	return nil
}

func (c *collection) matchesSearch(it item, term string) bool {
	term = strings.ToLower(term)
	for _, key := range []string{c.module.TitleField, "title", "name", "email", "description"} {
		if v, ok := it[key].(string); ok && strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.msg
}

func matches(it item, filters map[string]string) bool {
	for k, want := range filters {
		got, ok := it[k]
		if !ok {
			return false
		}
		if !strings.EqualFold(cellString(got), want) {
			return false
		}
	}
	return true
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func compare(a, b any) int {
	af, aNum := number(a)
	bf, bNum := number(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(cellString(a)), strings.ToLower(cellString(b)))
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

func clone(it item) item {
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}
