package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/rbac"
	syncx "github.com/scormetry/scormetry/internal/sync"
	"github.com/scormetry/scormetry/internal/users"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db     *sql.DB
	driver db.Driver
	out    io.Writer
	log    *zap.Logger
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate                                        - create or update the schema")
	fmt.Fprintln(cli.out, "  adduser -username NAME -role ROLE [-id ID]     - create or update a user; the password is prompted")
	fmt.Fprintln(cli.out, "  events [-after SEQ] [-limit N]                 - print the score event log as JSON lines")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if err := db.Migrate(ctx, cli.db, cli.driver); err != nil {
			return err
		}
		cli.log.Info("schema up to date", zap.String("driver", string(cli.driver)))
		return nil

	case "adduser":
		fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		username := fs.String("username", "", "The user's login name.")
		role := fs.String("role", rbac.RoleStudent, "One of admin, teacher, judge, student.")
		id := fs.String("id", "", "Stable user id. Generated when empty.")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *username == "" || !rbac.ValidRole(*role) {
			fs.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			fs.Usage()
			return errHelp
		}
		return cli.addUser(ctx, users.User{ID: *id, Username: *username, Role: *role, Password: string(pwd)})

	case "events":
		fs := flag.NewFlagSet("events", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		after := fs.Int64("after", 0, "Only events with a larger sequence number.")
		limit := fs.Int("limit", 100, "Maximum number of events.")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.events(ctx, *after, *limit)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) addUser(ctx context.Context, u users.User) error {
	ins, _, err := users.Upsert(ctx, cli.db, []users.User{u})
	if err != nil {
		return err
	}
	verb := "updated"
	if ins > 0 {
		verb = "created"
	}
	cli.log.Info("user "+verb, zap.String("username", u.Username), zap.String("role", u.Role))
	return nil
}

func (cli *commandLine) events(ctx context.Context, after int64, limit int) error {
	evs, err := syncx.NewEventRepo(cli.db).Since(ctx, after, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	for _, e := range evs {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
