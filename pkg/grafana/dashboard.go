package grafana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultQuery is the display-mode query applied to view URLs when no
// override is configured. Kiosk mode hides the menu and chrome so only the
// panel grid is captured.
const DefaultQuery = "kiosk"

// ErrPanelNotFound is returned when a panel lookup does not match any
// panel of the resolved dashboard.
var ErrPanelNotFound = errors.New("panel not found")

// Page is the common capability set of a render target, either a whole
// dashboard or a single panel.
type Page interface {
	// PageTitle is the human-facing title, used for filenames and messages.
	PageTitle() string
	// PageURL is the fully qualified authenticated view URL.
	PageURL() string
	// Annotation is the free-text description attached to the target.
	Annotation() string
	// Headers are the auth headers to attach to browser requests.
	Headers() map[string]string
	// IsPanel reports whether the target is a single panel.
	IsPanel() bool
	// ShortURL exchanges the view URL for a short redirect URL. Fallible;
	// callers fall back to PageURL.
	ShortURL(ctx context.Context) (string, error)
}

// Dashboard is a resolved dashboard target.
type Dashboard struct {
	client *Client

	UID         string
	Title       string
	Slug        string
	Description string
	Tags        []string

	relPath string // relative view path from dashboard metadata
	query   string
	panels  []panelDef
}

type panelDef struct {
	id    string // panel ids are numeric in the API; stored string-coerced
	title string
}

// Dashboard resolves a dashboard UID against the live server. Targets are
// constructed fresh per render request; nothing is cached across requests.
func (c *Client) Dashboard(ctx context.Context, uid string) (*Dashboard, error) {
	var payload struct {
		Dashboard struct {
			Title  string   `json:"title"`
			Tags   []string `json:"tags"`
			Panels []struct {
				ID    json.Number `json:"id"`
				Title string      `json:"title"`
			} `json:"panels"`
		} `json:"dashboard"`
		Meta struct {
			URL         string `json:"url"`
			Slug        string `json:"slug"`
			Description string `json:"description"`
		} `json:"meta"`
	}

	if err := c.getJSON(ctx, "/api/dashboards/uid/"+uid, &payload); err != nil {
		return nil, fmt.Errorf("resolve dashboard %s: %w", uid, err)
	}

	d := &Dashboard{
		client:      c,
		UID:         uid,
		Title:       payload.Dashboard.Title,
		Slug:        payload.Meta.Slug,
		Description: payload.Meta.Description,
		Tags:        payload.Dashboard.Tags,
		relPath:     payload.Meta.URL,
		query:       DefaultQuery,
	}
	for _, p := range payload.Dashboard.Panels {
		d.panels = append(d.panels, panelDef{id: p.ID.String(), title: p.Title})
	}

	return d, nil
}

// PageTitle implements Page.
func (d *Dashboard) PageTitle() string { return d.Title }

// PageURL implements Page. The URL is the server base plus the relative
// path from dashboard metadata, with the query component applied.
func (d *Dashboard) PageURL() string {
	return fmt.Sprintf("%s%s?%s", d.client.BaseURL(), d.relPath, d.query)
}

// Annotation implements Page. The description and slug are the same
// logical field; whichever is present wins.
func (d *Dashboard) Annotation() string {
	if d.Description != "" {
		return d.Description
	}
	return d.Slug
}

// Headers implements Page.
func (d *Dashboard) Headers() map[string]string { return d.client.Headers() }

// IsPanel implements Page.
func (d *Dashboard) IsPanel() bool { return false }

// ShortURL implements Page.
func (d *Dashboard) ShortURL(ctx context.Context) (string, error) {
	return d.client.CreateShortURL(ctx, d.PageURL())
}

// WithQuery returns a dashboard whose view URL has the query component
// replaced, not appended. Repeated application with the same value is
// idempotent. An empty query keeps the current one.
func (d *Dashboard) WithQuery(query string) *Dashboard {
	if query == "" || query == d.query {
		return d
	}
	clone := *d
	clone.query = query
	return &clone
}

// Panel looks up a child panel by id. Panel ids from the API are numeric;
// the lookup compares string-coerced values so call sites may pass either
// form. Returns ErrPanelNotFound when no panel matches.
func (d *Dashboard) Panel(id string) (*Panel, error) {
	for _, p := range d.panels {
		if p.id == id {
			return &Panel{
				client: d.client,
				ID:     p.id,
				Title:  d.Title + "-" + p.title,
				Slug:   d.Slug,
				note:   d.Annotation(),
				url:    d.PageURL() + "&viewPanel=" + p.id,
			}, nil
		}
	}
	return nil, fmt.Errorf("dashboard %s: %w: %s", d.UID, ErrPanelNotFound, id)
}

// Panels returns the ids and titles of the dashboard's panels.
func (d *Dashboard) Panels() []string {
	out := make([]string, 0, len(d.panels))
	for _, p := range d.panels {
		out = append(out, p.id+" "+p.title)
	}
	return out
}

// Panel is a resolved panel target, scoped to its parent dashboard.
type Panel struct {
	client *Client

	ID    string
	Title string
	Slug  string

	note string
	url  string
}

// PageTitle implements Page.
func (p *Panel) PageTitle() string { return p.Title }

// PageURL implements Page.
func (p *Panel) PageURL() string { return p.url }

// Annotation implements Page.
func (p *Panel) Annotation() string { return p.note }

// Headers implements Page.
func (p *Panel) Headers() map[string]string { return p.client.Headers() }

// IsPanel implements Page.
func (p *Panel) IsPanel() bool { return true }

// ShortURL implements Page.
func (p *Panel) ShortURL(ctx context.Context) (string, error) {
	return p.client.CreateShortURL(ctx, p.url)
}
