package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/gowool/aml-rbac"
	"github.com/gowool/aml-rbac/config"
	amlfx "github.com/gowool/aml-rbac/fx"
)

var version = "dev"

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "can":
		return runCan(args[1:], out)
	case "roles":
		return runRoles(args[1:], out)
	case "version":
		fmt.Fprintf(out, "amlconsole %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `amlconsole - AML admin console

Usage:
  amlconsole serve [-config amlconsole.yaml]
  amlconsole can [-config amlconsole.yaml] <role> <action>
  amlconsole roles [-config amlconsole.yaml] <action>
  amlconsole version
`)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}

	app := fx.New(
		fx.Supply(cfg),
		amlfx.Options(),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func loadMatrix(fs *flag.FlagSet, args []string) (*rbac.RBAC, []string, error) {
	path := fs.String("config", "", "configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, nil, err
	}
	r, err := rbac.NewWithConfig(cfg.RBAC)
	if err != nil {
		return nil, nil, err
	}
	return r, fs.Args(), nil
}

// runCan answers one access question and exits non-zero on deny.
func runCan(args []string, out io.Writer) error {
	r, rest, err := loadMatrix(flag.NewFlagSet("can", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errUsage
	}

	role, action := rest[0], rbac.Action(rest[1])
	if !r.Matrix().Has(action) {
		return fmt.Errorf("%w: %s", rbac.ErrUnknownAction, action)
	}
	if !r.CanAccess(role, action) {
		return fmt.Errorf("%s may not %s", role, action)
	}
	fmt.Fprintf(out, "%s may %s\n", rbac.NormalizeRole(role), action)
	return nil
}

func runRoles(args []string, out io.Writer) error {
	r, rest, err := loadMatrix(flag.NewFlagSet("roles", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errUsage
	}

	action := rbac.Action(rest[0])
	if !r.Matrix().Has(action) {
		return fmt.Errorf("%w: %s", rbac.ErrUnknownAction, action)
	}

	roles := r.Matrix().Allowed(action)
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.String())
	}
	fmt.Fprintln(out, strings.Join(names, "\n"))
	return nil
}
