package commands

import (
	"fmt"

	"github.com/Morditux/kvsession"
	"github.com/spf13/cobra"
)

var touchCmd = &cobra.Command{
	Use:   "touch ID",
	Short: "Extend the lifetime of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		h, err := s.handler()
		if err != nil {
			return err
		}
		if !h.Touch(cmd.Context(), args[0], "") {
			return fmt.Errorf("session %s not found", kvsession.MaskID(args[0]))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s extended by %s\n", kvsession.MaskID(args[0]), h.MaxLifetime())
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy ID",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		h, err := s.handler()
		if err != nil {
			return err
		}
		if !h.Destroy(cmd.Context(), args[0]) {
			return fmt.Errorf("failed to destroy session %s", kvsession.MaskID(args[0]))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s destroyed\n", kvsession.MaskID(args[0]))
		return nil
	},
}
