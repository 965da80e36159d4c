package backup

import (
	"strings"
)

// ModeKind is the container's 1-byte encryption mode discriminant.
type ModeKind byte

const (
	ModeKindServerSecret ModeKind = 0x00
	ModeKindUserPassword ModeKind = 0x01
)

// Request-level names for the two modes.
const (
	ModeNameServerSecret = "prepflow-only"
	ModeNameUserPassword = "user-password"
)

func (k ModeKind) String() string {
	switch k {
	case ModeKindServerSecret:
		return ModeNameServerSecret
	case ModeKindUserPassword:
		return ModeNameUserPassword
	default:
		return "unknown"
	}
}

// Mode selects the key derivation path. It is closed: ServerSecret or UserPassword.
type Mode interface {
	Kind() ModeKind
	isMode()
}

// ServerSecret derives the key from the platform's secret store.
type ServerSecret struct{}

func (ServerSecret) Kind() ModeKind { return ModeKindServerSecret }
func (ServerSecret) isMode()        {}

// UserPassword derives the key from a caller-supplied password.
type UserPassword struct {
	Password string
}

func (UserPassword) Kind() ModeKind { return ModeKindUserPassword }
func (UserPassword) isMode()        {}

// ParseMode maps a request mode name to a Mode. password is required iff
// the mode is user-password.
func ParseMode(name, password string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ModeNameServerSecret, "server-secret":
		return ServerSecret{}, nil
	case ModeNameUserPassword, "password":
		if password == "" {
			return nil, ErrPasswordRequired
		}
		return UserPassword{Password: password}, nil
	default:
		return nil, invalidRequest("unknown encryption mode %q", name)
	}
}
