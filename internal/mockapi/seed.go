package mockapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Default login seeded by bmrctl mock.
const (
	AdminEmail    = "admin@bmr.local"
	AdminPassword = "admin123"
)

// SeedAdmin adds the default superuser account.
func (s *Server) SeedAdmin() (*Account, error) {
	return s.AddUser(Account{
		Email:           AdminEmail,
		Username:        "admin",
		FirstName:       "BMR",
		LastName:        "Admin",
		IsSuperuser:     true,
		IsStaff:         true,
		IsEmailVerified: true,
		GroupName:       "Administrators",
	}, AdminPassword)
}

// Seed fills every collection with n generated records. The same seed
// yields the same data.
func (s *Server) Seed(n int, seed int64) error {
	f := gofakeit.New(seed)

	titles := func() func() string {
		seen := map[string]bool{}
		return func() string {
			for attempt := 0; ; attempt++ {
				t := capitalize(f.HipsterWord()) + " " + capitalize(f.Noun())
				if attempt > 10 {
					t = fmt.Sprintf("%s %d", t, len(seen)+1)
				}
				if !seen[t] {
					seen[t] = true
					return t
				}
			}
		}
	}

	eventCats := titles()
	postCats := titles()
	donationCats := titles()
	for i := 0; i < n; i++ {
		if err := s.seedOne("event-categories", item{"title": eventCats()}); err != nil {
			return err
		}
		if err := s.seedOne("post-categories", item{"title": postCats(), "is_menu": f.Bool()}); err != nil {
			return err
		}
		if err := s.seedOne("donation-categories", item{
			"title":                    donationCats(),
			"is_date_required":         f.Bool(),
			"is_multi_select_required": f.Bool(),
		}); err != nil {
			return err
		}
	}

	subs := titles()
	events := titles()
	posts := titles()
	for i := 0; i < n; i++ {
		parent := f.Number(1, n)
		start := f.DateRange(time.Now().AddDate(0, -2, 0), time.Now().AddDate(0, 6, 0))
		records := []struct {
			module string
			fields item
		}{
			{"event-subcategories", item{"title": subs(), "event_category": parent}},
			{"donation-subcategories", item{"title": subs(), "donation_category": parent, "amount": fmt.Sprintf("%d.00", f.Number(5, 500))}},
			{"events", item{
				"title":             events(),
				"short_description": f.Sentence(8),
				"description":       "<p>" + f.Paragraph(1, 3, 12, " ") + "</p>",
				"event_category":    parent,
				"location":          f.City(),
				"start_date":        start.UTC().Format(time.RFC3339),
				"end_date":          start.Add(3 * time.Hour).UTC().Format(time.RFC3339),
				"is_published":      f.Bool(),
			}},
			{"posts", item{
				"title":             posts(),
				"short_description": f.Sentence(10),
				"description":       "<p>" + f.Paragraph(2, 3, 12, " ") + "</p>",
				"post_category":     parent,
				"is_published":      f.Bool(),
			}},
			{"association-posts", item{"title": posts(), "description": f.Sentence(12), "is_published": f.Bool()}},
			{"event-media-info", item{"title": events(), "event": parent, "description": f.Sentence(6)}},
			{"users", item{
				"email":      fmt.Sprintf("%s.%d@%s", strings.ToLower(f.FirstName()), i+1, f.DomainName()),
				"username":   f.Username(),
				"first_name": f.FirstName(),
				"last_name":  f.LastName(),
				"is_staff":   f.Bool(),
				"is_active":  f.Bool(),
			}},
		}
		for _, rec := range records {
			if err := s.seedOne(rec.module, rec.fields); err != nil {
				return err
			}
		}
	}

	for _, name := range []string{"Administrators", "Editors", "Membership Officers"} {
		if err := s.seedOne("roles", item{"name": name}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) seedOne(module string, fields item) error {
	if _, err := s.store.insert(module, fields); err != nil {
		return fmt.Errorf("seed %s: %w", module, err)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
