package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

var rolePermissionsCmd = &cobra.Command{
	Use:   "permissions <id>",
	Short: "List the permissions granted to a role",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		perms, err := s.catalog.Roles.Permissions(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printPermissions(s.format, perms)
	}),
}

var roleGrantCmd = &cobra.Command{
	Use:   "set-permissions <id> [permission-id]...",
	Short: "Replace the permission set of a role",
	Long:  "Replace the permission set of a role. Without permission ids the role loses every permission.",
	Args:  cobra.MinimumNArgs(1),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ids := make([]int, 0, len(args)-1)
		for _, a := range args[1:] {
			pid, err := parseID(a)
			if err != nil {
				return err
			}
			ids = append(ids, pid)
		}
		role, err := s.catalog.Roles.SetPermissions(cmd.Context(), id, ids)
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, role); done {
			return err
		}
		output.Success("Role %s now has %d permissions", role.Name, len(ids))
		return nil
	}),
}

var roleRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a role",
	Args:  cobra.ExactArgs(2),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		role, err := s.catalog.Roles.Rename(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		output.Success("Role %d renamed to %s", role.ID, role.Name)
		return nil
	}),
}

var roleAddCmd = &cobra.Command{
	Use:   "add <name> [permission-id]...",
	Short: "Create a role with an initial permission set",
	Args:  cobra.MinimumNArgs(1),
	RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
		in := resources.RoleInput{Name: args[0]}
		for _, a := range args[1:] {
			pid, err := parseID(a)
			if err != nil {
				return err
			}
			in.Permissions = append(in.Permissions, pid)
		}
		role, err := s.catalog.Roles.CreateRole(cmd.Context(), in)
		if err != nil {
			return err
		}
		if done, err := output.Structured(s.format, role); done {
			return err
		}
		output.Success("Role %s created with id %d", role.Name, role.ID)
		return nil
	}),
}

func printPermissions(format output.Format, perms []resources.Permission) error {
	if done, err := output.Structured(format, perms); done {
		return err
	}
	if len(perms) == 0 {
		output.Info("No permissions granted.")
		return nil
	}
	table := output.NewTable([]string{"ID", "CODENAME", "NAME", "APP"})
	for _, p := range perms {
		table.AddRow([]string{fmt.Sprint(p.ID), p.Codename, p.Name, p.App})
	}
	table.Render()
	return nil
}

func init() {
	resourceCmds["roles"].AddCommand(rolePermissionsCmd, roleGrantCmd, roleRenameCmd, roleAddCmd)
}
