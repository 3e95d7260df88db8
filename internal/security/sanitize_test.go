package security

import "testing"

func TestValidateBranchName(t *testing.T) {
	testCases := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		{"simple", "main", false},
		{"with slash", "feature/login", false},
		{"with dots and dashes", "release-1.2.3", false},
		{"empty", "", true},
		{"leading dash", "-rf", true},
		{"semicolon injection", "main; rm -rf /", true},
		{"backtick injection", "main`id`", true},
		{"space", "main branch", true},
		{"dollar expansion", "main$(id)", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBranchName(tc.branch)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateBranchName(%q) error = %v, wantErr %v", tc.branch, err, tc.wantErr)
			}
		})
	}
}

func TestValidateTargetName(t *testing.T) {
	testCases := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"simple", "web-1", false},
		{"underscore", "api_server", false},
		{"empty", "", true},
		{"leading dash", "-web", true},
		{"leading dot", ".web", true},
		{"slash", "web/1", true},
		{"space", "web 1", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTargetName(tc.target)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateTargetName(%q) error = %v, wantErr %v", tc.target, err, tc.wantErr)
			}
		})
	}
}

func TestValidateRepoName(t *testing.T) {
	testCases := []struct {
		name    string
		repo    string
		wantErr bool
	}{
		{"owner slash name", "octocat/hello-world", false},
		{"dotted name", "octocat/app.js", false},
		{"empty", "", true},
		{"no slash", "octocat", true},
		{"extra slash", "a/b/c", true},
		{"injection", "octocat/repo;id", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRepoName(tc.repo)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateRepoName(%q) error = %v, wantErr %v", tc.repo, err, tc.wantErr)
			}
		})
	}
}

func TestSanitizeRemotePath(t *testing.T) {
	testCases := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"absolute", "/srv/app", "/srv/app", false},
		{"nested", "/var/www/my-app", "/var/www/my-app", false},
		{"relative", "srv/app", "", true},
		{"traversal", "/srv/../etc", "", true},
		{"semicolon", "/srv/app;id", "", true},
		{"space", "/srv/my app", "", true},
		{"glob", "/srv/app/*", "", true},
		{"backtick", "/srv/`id`", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeRemotePath(tc.path)
			if (err != nil) != tc.wantErr {
				t.Fatalf("SanitizeRemotePath(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("SanitizeRemotePath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}
