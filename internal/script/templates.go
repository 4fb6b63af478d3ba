package script

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

//go:embed templates
var templates embed.FS

// Load returns the raw text of a template such as "check_docker.sh" or
// "openvpn/setup.sh".
func Load(name string) (string, error) {
	data, err := templates.ReadFile(path.Join("templates", name))
	if err != nil {
		return "", fmt.Errorf("template %q not found", name)
	}
	return string(data), nil
}

// Render loads a template and substitutes vars into it.
func Render(name string, vars Vars) (string, error) {
	text, err := Load(name)
	if err != nil {
		return "", err
	}
	return ReplaceVars(text, vars), nil
}

// List returns the names of all embedded templates, sorted.
func List() []string {
	var names []string
	_ = fs.WalkDir(templates, "templates", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		names = append(names, p[len("templates/"):])
		return nil
	})
	sort.Strings(names)
	return names
}
