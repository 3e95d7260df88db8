package target

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"shipbox/internal/security"
)

const (
	DefaultStepTimeout = 300
	DefaultBranch      = "main"
	DefaultSupervisor  = SupervisorPM2
	DefaultEntrypoint  = "app.js"
	DefaultInstall     = "npm ci --omit=dev"
)

// DefaultExcludes are paths never mirrored to the target. Dependency caches
// are rebuilt remotely by the install step.
var DefaultExcludes = []string{".git", "node_modules"}

// TargetConfig is the YAML shape of a single target entry.
type TargetConfig struct {
	Host            string   `yaml:"host" validate:"required,hostname|ip"`
	Port            int      `yaml:"port" validate:"gte=0,lte=65535"`
	User            string   `yaml:"user" validate:"required"`
	KeyFile         string   `yaml:"key_file" validate:"required"`
	KnownHostsFile  string   `yaml:"known_hosts"`
	InsecureHostKey bool     `yaml:"insecure_ignore_host_key"`
	AppPath         string   `yaml:"app_path" validate:"required"`
	AppName         string   `yaml:"app_name"`
	Entrypoint      string   `yaml:"entrypoint"`
	Supervisor      string   `yaml:"supervisor" validate:"omitempty,oneof=pm2 systemd"`
	Branch          string   `yaml:"branch"`
	Repo            string   `yaml:"repo" validate:"omitempty,contains=/"`
	SourceDir       string   `yaml:"source_dir"`
	Excludes        []string `yaml:"excludes"`
	RuntimeCommand  string   `yaml:"runtime_command"`
	InstallCommand  string   `yaml:"install_command"`
	WebhookSecret   string   `yaml:"webhook_secret"`
	StepTimeout     int      `yaml:"step_timeout" validate:"gte=0"`
}

// Config is the root of targets.yaml.
type Config struct {
	Targets map[string]TargetConfig `yaml:"targets"`
}

// LoadConfig loads and validates targets from a YAML file. Every target must
// pass validation; errors across all targets are collected and reported
// together so the operator can fix the file in one pass.
func LoadConfig(configPath string) (map[string]*Target, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if config.Targets == nil {
		config.Targets = make(map[string]TargetConfig)
	}

	validate := validator.New()
	targets := make(map[string]*Target, len(config.Targets))

	for name, tc := range config.Targets {
		errs := validateTarget(validate, name, tc)
		if len(errs) > 0 {
			return nil, fmt.Errorf("invalid configuration for target '%s':\n%s",
				name, strings.Join(errs, "\n"))
		}
		targets[name] = resolveTarget(name, tc)
	}

	return targets, nil
}

func validateTarget(validate *validator.Validate, name string, tc TargetConfig) []string {
	var errs []string

	if err := security.ValidateTargetName(name); err != nil {
		errs = append(errs, fmt.Sprintf("  - target '%s': %v", name, err))
	}

	if err := validate.Struct(tc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("  - target '%s': field %s failed '%s' validation",
					name, strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			errs = append(errs, fmt.Sprintf("  - target '%s': %v", name, err))
		}
	}

	if tc.AppPath != "" && !filepath.IsAbs(tc.AppPath) {
		errs = append(errs, fmt.Sprintf("  - target '%s': app_path must be absolute, got '%s'", name, tc.AppPath))
	}

	branch := tc.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	if err := security.ValidateBranchName(branch); err != nil {
		errs = append(errs, fmt.Sprintf("  - target '%s': %v", name, err))
	}

	if tc.WebhookSecret != "" {
		if err := security.ValidateSecret(tc.WebhookSecret); err != nil {
			errs = append(errs, fmt.Sprintf("  - target '%s': webhook_secret: %v", name, err))
		}
	}

	if !tc.InsecureHostKey && tc.KnownHostsFile == "" {
		errs = append(errs, fmt.Sprintf("  - target '%s': known_hosts is required unless insecure_ignore_host_key is set", name))
	}

	return errs
}

func resolveTarget(name string, tc TargetConfig) *Target {
	t := &Target{
		Name:            name,
		Host:            tc.Host,
		Port:            tc.Port,
		User:            tc.User,
		KeyFile:         expandHome(tc.KeyFile),
		KnownHostsFile:  expandHome(tc.KnownHostsFile),
		InsecureHostKey: tc.InsecureHostKey,
		AppPath:         tc.AppPath,
		AppName:         tc.AppName,
		Entrypoint:      tc.Entrypoint,
		Supervisor:      tc.Supervisor,
		Branch:          tc.Branch,
		Repo:            tc.Repo,
		SourceDir:       tc.SourceDir,
		Excludes:        tc.Excludes,
		RuntimeCommand:  tc.RuntimeCommand,
		InstallCommand:  tc.InstallCommand,
		WebhookSecret:   tc.WebhookSecret,
		StepTimeout:     tc.StepTimeout,
	}

	if t.Port == 0 {
		t.Port = 22
	}
	if t.Branch == "" {
		t.Branch = DefaultBranch
	}
	if t.Supervisor == "" {
		t.Supervisor = DefaultSupervisor
	}
	if t.Entrypoint == "" {
		t.Entrypoint = DefaultEntrypoint
	}
	if t.AppName == "" {
		t.AppName = name
	}
	if t.InstallCommand == "" {
		t.InstallCommand = DefaultInstall
	}
	if t.Excludes == nil {
		t.Excludes = append([]string(nil), DefaultExcludes...)
	}
	if t.StepTimeout == 0 {
		t.StepTimeout = DefaultStepTimeout
	}

	return t
}

// expandHome resolves a leading ~/ against the current user's home directory
// so key paths can be written portably in targets.yaml.
func expandHome(path string) string {
	if path == "" || !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
