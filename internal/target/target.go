package target

import "fmt"

// Supervisor kinds supported for the remote long-lived process.
const (
	SupervisorPM2     = "pm2"
	SupervisorSystemd = "systemd"
)

// Target is a validated deployment endpoint: one remote host plus everything
// needed to bring the application on it to the desired running state.
// Immutable for the duration of a deployment run.
type Target struct {
	Name string
	Host string
	Port int
	User string

	// KeyFile references the private credential used for the SSH channel.
	// Treated as opaque; never logged.
	KeyFile         string
	KnownHostsFile  string
	InsecureHostKey bool

	// AppPath is the remote working directory the source tree is synced to.
	AppPath string

	// AppName is the process name registered with the supervisor.
	AppName    string
	Entrypoint string
	Supervisor string

	Branch string
	// Repo is the optional "owner/name" GitHub repository used to resolve
	// the head commit recorded in history.
	Repo string

	SourceDir      string
	Excludes       []string
	RuntimeCommand string
	InstallCommand string

	WebhookSecret string

	StepTimeout int
}

// Ref returns the fully qualified git ref for the target branch.
func (t *Target) Ref() string {
	return fmt.Sprintf("refs/heads/%s", t.Branch)
}

// MatchesRef reports whether a push ref targets this target's branch.
func (t *Target) MatchesRef(ref string) bool {
	return ref == t.Ref()
}

// Addr returns host:port for display purposes.
func (t *Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}
