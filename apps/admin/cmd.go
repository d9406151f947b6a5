package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/identity"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf        *core.Config
	identitySvc *identity.Service
	db          *sqlx.DB // nil unless the postgres engine is configured
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  getclaims -email EMAIL                  - print the account's admin claims")
	fmt.Println("  setclaims -email EMAIL -school SCHOOLID - grant the account admin claims for a school")
	fmt.Println("  rmclaims  -email EMAIL                  - revoke the account's admin claim")
	fmt.Println("  token     -email EMAIL                  - issue a signed JWT for the account")
	fmt.Println("  migrate   COMMAND [args]                - run database migrations (postgres engine only)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	getClaimsCmd := flag.NewFlagSet("getclaims", flag.ExitOnError)
	getClaimsEmail := getClaimsCmd.String("email", "", "The account's email.")

	setClaimsCmd := flag.NewFlagSet("setclaims", flag.ExitOnError)
	setClaimsEmail := setClaimsCmd.String("email", "", "The account's email.")
	setClaimsSchool := setClaimsCmd.String("school", "", "The school the account will manage.")

	rmClaimsCmd := flag.NewFlagSet("rmclaims", flag.ExitOnError)
	rmClaimsEmail := rmClaimsCmd.String("email", "", "The account's email.")

	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenEmail := tokenCmd.String("email", "", "The account's email.")

	switch args[1] {
	case "getclaims":
		if err := getClaimsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *getClaimsEmail == "" {
			getClaimsCmd.Usage()
			return errHelp
		}
		return cli.getClaims(*getClaimsEmail)
	case "setclaims":
		if err := setClaimsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setClaimsEmail == "" || *setClaimsSchool == "" {
			setClaimsCmd.Usage()
			return errHelp
		}
		return cli.setClaims(*setClaimsEmail, *setClaimsSchool)
	case "rmclaims":
		if err := rmClaimsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rmClaimsEmail == "" {
			rmClaimsCmd.Usage()
			return errHelp
		}
		return cli.removeClaims(*rmClaimsEmail)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenEmail == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenEmail)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}
