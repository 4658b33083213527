package main

import (
	"context"
	"errors"

	"disputeflow/auth"
)

type accountLookup interface {
	LookupByEmail(ctx context.Context, email string) (auth.User, error)
	ListByRole(ctx context.Context, role auth.Role) ([]auth.User, error)
}

// accountDirectory resolves dispute parties and administrators from the
// users table.
type accountDirectory struct {
	accounts accountLookup
}

func (d accountDirectory) UserIDByEmail(ctx context.Context, email string) (string, bool, error) {
	user, err := d.accounts.LookupByEmail(ctx, email)
	if errors.Is(err, auth.ErrUserNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return user.ID, true, nil
}

func (d accountDirectory) AdminIDs(ctx context.Context) ([]string, error) {
	admins, err := d.accounts.ListByRole(ctx, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	return ids, nil
}
