package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/learning-platform/services/progress/internal/progress"
	"github.com/example/learning-platform/services/progress/internal/store"
)

func newProgressCmd(a *app) *cobra.Command {
	var userFlag, courseFlag string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print one learner's course progress as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			courseID, err := uuid.Parse(courseFlag)
			if err != nil {
				return fmt.Errorf("--course: %w", err)
			}
			st, closeFn, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			cp, err := progress.NewAggregator(st).GetCourseProgress(cmd.Context(), userID, courseID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cp)
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "learner id")
	cmd.Flags().StringVar(&courseFlag, "course", "", "course id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			ps, ok := st.(*store.PostgresStore)
			if !ok {
				return fmt.Errorf("migrate requires a postgres store, got %T", st)
			}
			applied, err := ps.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "applied: "+strings.Join(applied, ", "))
			return nil
		},
	}
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
