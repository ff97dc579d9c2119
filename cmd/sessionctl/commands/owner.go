package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count OWNER",
	Short: "Count the sessions of an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		admin, err := s.admin()
		if err != nil {
			return err
		}
		n, err := admin.CountOwnerSessions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list OWNER",
	Short: "List the sessions of an owner with masked identifiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		admin, err := s.admin()
		if err != nil {
			return err
		}
		sessions, err := admin.ListOwnerSessions(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(sessions))
		for _, info := range sessions {
			rows = append(rows, []string{info.MaskedID, strconv.Itoa(info.PayloadSize)})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Session", "Bytes"})
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)
		table.AppendBulk(rows)
		table.Render()
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate OWNER",
	Short: "Delete every session of an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		admin, err := s.admin()
		if err != nil {
			return err
		}
		n, err := admin.ForceInvalidateOwner(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %d session(s)\n", n)
		return nil
	},
}
