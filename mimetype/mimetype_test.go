package mimetype

import "testing"

func TestLookup(t *testing.T) {
	table := NewTable(nil)

	tests := []struct {
		name string
		want string
	}{
		{"app.js", "application/javascript"},
		{"styles/main.css", "text/css"},
		{"index.html", "text/html"},
		{"logo.svg", "image/svg+xml"},
		{"data.json", "application/json"},
		{"notes.txt", "text/plain"},
		{"feed.xml", "application/xml"},
		{"UPPER.HTML", "text/html"},
		{"archive.bin", DefaultType},
		{"no-extension", DefaultType},
		{"", DefaultType},
	}
	for _, tt := range tests {
		if got := table.Lookup(tt.name); got != tt.want {
			t.Errorf("Lookup(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLookupOverrides(t *testing.T) {
	table := NewTable(map[string]string{
		".js":  "text/javascript",
		"YAML": "application/yaml",
	})

	if got := table.Lookup("app.js"); got != "text/javascript" {
		t.Errorf("override Lookup(app.js) = %q, want text/javascript", got)
	}
	// Keys are normalised to a lower-case dotted extension.
	if got := table.Lookup("deploy.yaml"); got != "application/yaml" {
		t.Errorf("override Lookup(deploy.yaml) = %q, want application/yaml", got)
	}
	if got := table.Lookup("main.css"); got != "text/css" {
		t.Errorf("builtin Lookup(main.css) = %q, want text/css", got)
	}
}
