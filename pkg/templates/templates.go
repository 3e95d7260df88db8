// Package templates renders the supervisor configuration files an operator
// installs on a target before its first deployment: a systemd unit or a pm2
// ecosystem file for the application process.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shipbox/pkg/fileutil"
)

// Template names
const (
	SystemdUnit  = "systemd-unit"
	PM2Ecosystem = "pm2-ecosystem"
)

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// builtin templates are used when no override file is found on disk.
var builtin = map[string]string{
	SystemdUnit: `[Unit]
Description={{APP_NAME}} (managed by shipbox)
After=network.target

[Service]
Type=simple
User={{USER}}
WorkingDirectory={{APP_PATH}}
ExecStart=/usr/bin/env node {{ENTRYPOINT}}
Restart=on-failure
RestartSec=5
Environment=NODE_ENV=production

[Install]
WantedBy=multi-user.target
`,
	PM2Ecosystem: `module.exports = {
  apps: [{
    name: "{{APP_NAME}}",
    script: "{{ENTRYPOINT}}",
    cwd: "{{APP_PATH}}",
    env: {
      NODE_ENV: "production"
    }
  }]
};
`,
}

// SearchPaths returns the override locations checked for a template, in
// order: ./templates, ./config/templates, /etc/shipbox/templates.
func SearchPaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "shipbox", "templates", filename),
	}
}

// Get returns the raw template content by name. A file found in one of the
// search paths overrides the built-in content.
func Get(name string) (string, error) {
	content, ok := builtin[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	if path := fileutil.SearchPathsOptional(SearchPaths(name)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read template override %s: %w", path, err)
		}
		return string(data), nil
	}

	return content, nil
}

// Render renders a template with the given data using {{PLACEHOLDER}}
// substitution.
func Render(templateName string, data TemplateData) (string, error) {
	content, err := Get(templateName)
	if err != nil {
		return "", err
	}

	for key, value := range data {
		content = strings.ReplaceAll(content, fmt.Sprintf("{{%s}}", key), value)
	}
	return content, nil
}

// RenderSystemdUnit renders the systemd unit for an application process.
func RenderSystemdUnit(appName, user, appPath, entrypoint string) (string, error) {
	return Render(SystemdUnit, TemplateData{
		"APP_NAME":   appName,
		"USER":       user,
		"APP_PATH":   appPath,
		"ENTRYPOINT": entrypoint,
	})
}

// RenderPM2Ecosystem renders the pm2 ecosystem file for an application
// process.
func RenderPM2Ecosystem(appName, appPath, entrypoint string) (string, error) {
	return Render(PM2Ecosystem, TemplateData{
		"APP_NAME":   appName,
		"APP_PATH":   appPath,
		"ENTRYPOINT": entrypoint,
	})
}

// List returns all available template names.
func List() []string {
	return []string{SystemdUnit, PM2Ecosystem}
}
