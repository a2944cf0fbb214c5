// Package principal defines the OS identities a job command can run as.
// These are pure data types: an account name and, on Windows, a reference to
// where the credential lives. No secrets are held here.
package principal

// Platform is the OS family a principal belongs to.
type Platform int

const (
	// POSIX covers Linux, macOS and the BSDs.
	POSIX Platform = iota
	// Windows covers all Windows hosts.
	Windows
)

func (p Platform) String() string {
	switch p {
	case POSIX:
		return "posix"
	case Windows:
		return "windows"
	default:
		return "unknown"
	}
}

// HostPlatform maps a GOOS value to its platform family.
//
//	pl := principal.HostPlatform(runtime.GOOS)
func HostPlatform(goos string) Platform {
	if goos == "windows" {
		return Windows
	}
	return POSIX
}

// Principal is an OS account a command runs under. The interface is sealed;
// the only implementations are Posix and WindowsUser.
type Principal interface {
	// Account returns the account name.
	Account() string
	// Platform returns the OS family the identity is valid on.
	Platform() Platform

	sealed()
}

// Posix identifies a POSIX user account by name.
type Posix struct {
	User string
}

// Account returns the user name.
func (p Posix) Account() string { return p.User }

// Platform returns POSIX.
func (Posix) Platform() Platform { return POSIX }

func (Posix) sealed() {}

// WindowsUser identifies a Windows account. CredentialFile is the path to an
// exported PSCredential (Export-Clixml) that the launcher imports; it is a
// reference to the secret, not the secret itself.
type WindowsUser struct {
	User           string
	CredentialFile string
}

// Account returns the account name, possibly domain-qualified.
func (w WindowsUser) Account() string { return w.User }

// Platform returns Windows.
func (WindowsUser) Platform() Platform { return Windows }

func (WindowsUser) sealed() {}

// Matches reports whether p may be used on the given platform.
// A nil principal matches every platform.
func Matches(p Principal, pl Platform) bool {
	if p == nil {
		return true
	}
	return p.Platform() == pl
}
