package main

import (
	"context"
	"os"
	"strings"

	"github.com/lczm/pgmcp/internal/agent"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	copts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about the database interactively; type 'quit' to exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, opts, copts)
			if err != nil {
				return err
			}
			defer s.Close()

			return agent.ChatLoop(ctx, os.Stdin, cmd.OutOrStdout(), func(ctx context.Context, query string) (string, error) {
				return s.answer(ctx, query, nil)
			})
		},
	}
	copts.addFlags(cmd.Flags())
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	copts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question about the database.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, opts, copts)
			if err != nil {
				return err
			}
			defer s.Close()

			_, err = s.answer(ctx, strings.Join(args, " "), cmd.OutOrStdout())
			return err
		},
	}
	copts.addFlags(cmd.Flags())
	return cmd
}
