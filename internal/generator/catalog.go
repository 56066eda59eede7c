package generator

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

// Catalog is the set of named templates publishers can pick from.
// It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// DefaultCatalog returns the built-in templates.
func DefaultCatalog() *Catalog {
	c := &Catalog{templates: make(map[string]Template)}
	for _, t := range builtinTemplates() {
		c.templates[t.ID] = t
	}
	return c
}

func builtinTemplates() []Template {
	return []Template{
		{
			ID: "morning-sessions", Name: "Morning Sessions",
			Description: "Weekday morning slots (9 AM - 12 PM)",
			Window: Window{Times: []string{"09:00", "10:00", "11:00", "12:00"}, DurationMinutes: 60, HorizonDays: 14, Days: Weekdays},
		},
		{
			ID: "afternoon-sessions", Name: "Afternoon Sessions",
			Description: "Weekday afternoon slots (2 PM - 5 PM)",
			Window: Window{Times: []string{"14:00", "15:00", "16:00", "17:00"}, DurationMinutes: 60, HorizonDays: 14, Days: Weekdays},
		},
		{
			ID: "evening-sessions", Name: "Evening Sessions",
			Description: "Weekday evening slots (6 PM - 9 PM)",
			Window: Window{Times: []string{"18:00", "19:30", "21:00"}, DurationMinutes: 90, HorizonDays: 14, Days: Weekdays},
		},
		{
			ID: "weekend-intensive", Name: "Weekend Intensive",
			Description: "Weekend extended sessions",
			Window: Window{Times: []string{"10:00", "14:00"}, DurationMinutes: 120, HorizonDays: 30, Days: Weekends},
		},
		{
			ID: "quick-qa", Name: "Quick Q&A",
			Description: "Short 30-minute Q&A sessions throughout the day",
			Window: Window{
				Times:           []string{"09:00", "10:00", "11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00", "18:00", "19:00", "20:00"},
				DurationMinutes: 30, HorizonDays: 7, Days: Weekdays,
			},
		},
	}
}

// Get looks a template up by id.
func (c *Catalog) Get(id string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	return t, ok
}

// List returns every template ordered by id.
func (c *Catalog) List() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put validates t and adds or replaces it. A missing id is derived from the
// name ("Office Hours" becomes "office-hours").
func (c *Catalog) Put(t Template) error {
	if strings.TrimSpace(t.ID) == "" {
		t.ID = slug.Make(t.Name)
	}
	if t.ID == "" {
		return fmt.Errorf("%w: template needs an id or a name", ErrInvalidPolicy)
	}
	if err := Validate(t); err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	c.mu.Lock()
	c.templates[t.ID] = t
	c.mu.Unlock()
	return nil
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// ParseCatalog reads YAML of the form
//
//	templates:
//	  - name: Office Hours
//	    times: ["16:00"]
//	    duration_minutes: 45
//	    horizon_days: 21
//	    days: weekday
//
// on top of the built-in templates.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	c := DefaultCatalog()
	for _, t := range f.Templates {
		if err := c.Put(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadCatalog reads a catalog file; an empty path yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseCatalog(data)
}
