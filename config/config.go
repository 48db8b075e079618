// Package config loads the console configuration from defaults, an optional
// YAML file and AML__ prefixed environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/backend"
)

// File is the configuration file looked up in the working directory.
const File = "amlconsole.yaml"

const envPrefix = "AML__"

type Server struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
	// LoginRate is the number of login attempts allowed per minute.
	LoginRate  int  `koanf:"loginRate" validate:"gte=1"`
	Production bool `koanf:"production"`
}

type Storage struct {
	Driver    string `koanf:"driver" validate:"oneof=memory badger redis"`
	Path      string `koanf:"path" validate:"required_if=Driver badger"`
	RedisAddr string `koanf:"redisAddr" validate:"required_if=Driver redis"`
	Key       string `koanf:"key"`
}

type Log struct {
	Development bool   `koanf:"development"`
	Level       string `koanf:"level" validate:"oneof=debug info warn error"`
}

type Config struct {
	Server  Server         `koanf:"server"`
	Backend backend.Config `koanf:"backend"`
	Storage Storage        `koanf:"storage"`
	Log     Log            `koanf:"log"`
	RBAC    rbac.Config    `koanf:"rbac"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":       "127.0.0.1:3000",
		"server.loginRate":  10,
		"server.production": false,
		"backend.adminUrl":  "http://localhost:8080",
		"backend.portalUrl": "http://localhost:8081",
		"backend.loginPath": backend.DefaultLoginPath,
		"backend.timeout":   "15s",
		"storage.driver":    "badger",
		"storage.path":      ".amlconsole",
		"storage.key":       "token",
		"log.development":   false,
		"log.level":         "info",
	}
}

// Load reads the configuration. An empty path looks for File in the working
// directory and skips it when absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(File); err == nil {
			path = File
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", TransformEnv), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := rbac.NewMatrixWithConfig(c.RBAC); err != nil {
		return fmt.Errorf("config: rbac: %w", err)
	}
	return nil
}

// TransformEnv maps AML__BACKEND__ADMIN_URL to backend.adminUrl.
func TransformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		parts := strings.Split(segment, "_")
		for j := 1; j < len(parts); j++ {
			parts[j] = capitalize(parts[j])
		}
		segments[i] = strings.Join(parts, "")
	}
	return strings.Join(segments, ".")
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Logger builds the console logger: JSON in production, console output with
// stack traces in development.
func (l Log) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
