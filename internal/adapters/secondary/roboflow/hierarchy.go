package roboflow

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"model-uploader/internal/core/domain"
)

// ListWorkspaces reads the workspace bound to the API key. Older payloads
// carry a "workspaces" list or map instead of a single slug.
func (c *Client) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	doc, err := c.getJSON(ctx, c.endpoint(nil))
	if err != nil {
		return nil, err
	}

	if slug := doc.Get("workspace"); slug.Type == gjson.String && slug.String() != "" {
		return []domain.Workspace{{ID: slug.String(), Name: slug.String()}}, nil
	}

	var out []domain.Workspace
	eachEntry(doc.Get("workspaces"), func(key string, v gjson.Result) {
		id := firstString(v, "id", "slug", "url")
		if id == "" {
			id = key
		}
		if id == "" {
			return
		}
		name := nameOf(v)
		if name == "" {
			name = id
		}
		out = append(out, domain.Workspace{ID: lastSegment(id), Name: name})
	})
	return out, nil
}

func (c *Client) ListProjects(ctx context.Context, workspace string) ([]domain.Project, error) {
	doc, err := c.getJSON(ctx, c.endpoint(nil, workspace))
	if err != nil {
		return nil, err
	}

	projects := doc.Get("workspace.projects")
	if !hasEntries(projects) {
		projects = doc.Get("projects")
	}

	var out []domain.Project
	eachEntry(projects, func(key string, v gjson.Result) {
		id := firstString(v, "id", "slug")
		if id == "" {
			id = key
		}
		if id == "" {
			return
		}
		name := nameOf(v)
		if name == "" {
			name = lastSegment(id)
		}
		out = append(out, domain.Project{
			ID:        lastSegment(id),
			Name:      name,
			Type:      firstString(v, "type"),
			Workspace: workspace,
		})
	})
	return out, nil
}

func (c *Client) ListVersions(ctx context.Context, workspace, project string) ([]domain.Version, error) {
	doc, err := c.getJSON(ctx, c.endpoint(nil, workspace, project))
	if err != nil {
		return nil, err
	}

	var out []domain.Version
	eachEntry(doc.Get("versions"), func(key string, v gjson.Result) {
		id := firstString(v, "id", "version")
		if id == "" {
			id = key
		}
		if id == "" {
			return
		}
		out = append(out, domain.Version{
			ID:      lastSegment(id),
			Project: project,
			Name:    nameOf(v),
			Trained: trained(v),
		})
	})
	return out, nil
}

// eachEntry visits the items of a list, or the key/value pairs of a map.
// Bare string items are passed as keys.
func eachEntry(r gjson.Result, fn func(key string, v gjson.Result)) {
	switch {
	case r.IsArray():
		r.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				fn(v.String(), v)
			} else if v.IsObject() {
				fn("", v)
			}
			return true
		})
	case r.IsObject():
		r.ForEach(func(k, v gjson.Result) bool {
			fn(k.String(), v)
			return true
		})
	}
}

func hasEntries(r gjson.Result) bool {
	switch {
	case r.IsArray():
		return len(r.Array()) > 0
	case r.IsObject():
		return len(r.Map()) > 0
	}
	return false
}

// nameOf reads the display name of an entry; a map value that is a plain
// string is the name itself.
func nameOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return strings.TrimSpace(v.String())
	}
	return firstString(v, "name")
}

func firstString(v gjson.Result, keys ...string) string {
	if !v.IsObject() {
		return ""
	}
	for _, k := range keys {
		if f := v.Get(k); f.Exists() && f.Type != gjson.Null {
			if s := strings.TrimSpace(f.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// trained reports whether a version already has a model. The service marks
// it with a "model" object, or an explicit "trained" flag.
func trained(v gjson.Result) bool {
	if t := v.Get("trained"); t.IsBool() {
		return t.Bool()
	}
	m := v.Get("model")
	switch {
	case !m.Exists(), m.Type == gjson.Null:
		return false
	case m.IsObject():
		return len(m.Map()) > 0
	case m.Type == gjson.String:
		return m.String() != ""
	default:
		return m.Bool()
	}
}

// The API returns ids like "workspace/project/11".
func lastSegment(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
