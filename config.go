package rbac

import "fmt"

type AccessConfig struct {
	Action string   `env:"ACTION" json:"action,omitempty" yaml:"action,omitempty" koanf:"action"`
	Roles  []string `env:"ROLES" json:"roles,omitempty" yaml:"roles,omitempty" koanf:"roles"`
}

type Config struct {
	AccessControl []AccessConfig `envPrefix:"ACCESS_CONFIG_" json:"accessControl,omitempty" yaml:"accessControl,omitempty" koanf:"accessControl"`
}

// NewWithConfig builds an RBAC whose matrix comes from cfg, falling back to
// the default matrix when cfg declares no access control.
func NewWithConfig(cfg Config) (*RBAC, error) {
	matrix, err := NewMatrixWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithMatrix(matrix), nil
}

func NewMatrixWithConfig(cfg Config) (*Matrix, error) {
	if len(cfg.AccessControl) == 0 {
		return DefaultMatrix(), nil
	}

	entries := make([]Entry, 0, len(cfg.AccessControl))
	for _, access := range cfg.AccessControl {
		action := Action(access.Action)
		if action == "" {
			return nil, ErrEmptyAction
		}
		if len(access.Roles) == 0 {
			return nil, fmt.Errorf(`%w: action "%s" has no roles`, ErrInvalidRole, action)
		}
		allowed := make([]Role, 0, len(access.Roles))
		for _, raw := range access.Roles {
			role, err := ParseRole(raw)
			if err != nil {
				return nil, fmt.Errorf(`action "%s": %w`, action, err)
			}
			allowed = append(allowed, role)
		}
		entries = append(entries, Entry{Action: action, Roles: allowed})
	}
	return NewMatrixFromEntries(entries)
}
