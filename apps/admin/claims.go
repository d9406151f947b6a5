package main

import (
	"context"
	"fmt"

	echoapi "github.com/dadanisme/shule/apps/api/echo"
)

func (cli *commandLine) getClaims(email string) error {
	claims, err := cli.identitySvc.GetClaims(context.Background(), email)
	if err != nil {
		return err
	}
	fmt.Printf("admin: %t\nschoolId: %s\n", claims.Admin, claims.SchoolID)
	return nil
}

func (cli *commandLine) setClaims(email, schoolID string) error {
	claims, err := cli.identitySvc.SetAdminClaims(context.Background(), email, schoolID)
	if err != nil {
		return err
	}
	fmt.Printf("granted admin claims to %s\nadmin: %t\nschoolId: %s\n", email, claims.Admin, claims.SchoolID)
	return nil
}

func (cli *commandLine) removeClaims(email string) error {
	if err := cli.identitySvc.RemoveAdminClaims(context.Background(), email); err != nil {
		return err
	}
	fmt.Printf("revoked admin claim of %s\n", email)
	return nil
}

func (cli *commandLine) token(email string) error {
	usr, err := cli.identitySvc.UserByEmail(context.Background(), email)
	if err != nil {
		return err
	}
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr, cli.conf), cli.conf)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
