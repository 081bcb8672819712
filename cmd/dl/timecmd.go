package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/repo"
	"dossierline/internal/timeledger"
)

func timeCmd() *cobra.Command {
	t := &cobra.Command{Use: "time", Short: "Time registration"}
	t.AddCommand(timeLogCmd())
	t.AddCommand(timeListCmd())
	t.AddCommand(timeDeleteCmd())
	t.AddCommand(timeWeekCmd())
	t.AddCommand(timeTotalsCmd())
	t.AddCommand(timeAverageCmd())
	return t
}

func timeLogCmd() *cobra.Command {
	var in engine.TimeEntryInput
	var category string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log time",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Category = domain.Category(category)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.CreateTimeEntry(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&in.UserID, "for", "", "log for another user (needs time.manage)")
	cmd.Flags().StringVar(&in.LeadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&in.Date, "date", "", "date YYYY-MM-DD")
	cmd.Flags().IntVar(&in.Duration, "minutes", 0, "duration in minutes")
	cmd.Flags().StringVar(&category, "category", "", "calculatie, overleg, administratie, site-bezoek, overig, algemeen or prive")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("minutes")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func bindTimeFilters(cmd *cobra.Command, f *repo.TimeFilters) {
	cmd.Flags().StringVar(&f.UserID, "user", "", "user id (empty lists everyone)")
	cmd.Flags().StringVar(&f.LeadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&f.From, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.To, "to", "", "last date YYYY-MM-DD")
}

func timeListCmd() *cobra.Command {
	var f repo.TimeFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List time entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ListTimeEntries(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Date", "Minutes", "Category", "Lead", "Description"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.ID, en.UserID, en.Date, en.Duration, en.Category, deref(en.LeadID), en.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	bindTimeFilters(cmd, &f)
	return cmd
}

func timeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a time entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTimeEntry(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func timeWeekCmd() *cobra.Command {
	var user, date string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Weekly summary for one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.WeeklySummary(ctx, user, date, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s, week %s to %s\n", s.UserID, s.WeekStart, s.WeekEnd)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Minutes", "Billable"})
				for _, c := range domain.Categories {
					b, ok := s.ByCategory[c]
					if !ok {
						continue
					}
					tw.AppendRow(table.Row{c, b.TotalMinutes, b.BillableMinutes})
				}
				tw.AppendFooter(table.Row{"Total", s.Totals.TotalMinutes, fmt.Sprintf("%d (%d%%)", s.Totals.BillableMinutes, s.Totals.BillablePercent)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to you)")
	cmd.Flags().StringVar(&date, "date", "", "any day in the week (defaults to today)")
	return cmd
}

func timeTotalsCmd() *cobra.Command {
	var f repo.TimeFilters
	cmd := &cobra.Command{
		Use:   "totals",
		Short: "Totals per user and ISO week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				buckets, err := e.WeeklyTotals(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(buckets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Week", "Minutes", "Billable", "%"})
				for _, b := range buckets {
					tw.AppendRow(table.Row{b.UserID, b.WeekStart, b.TotalMinutes, b.BillableMinutes, b.BillablePercent})
				}
				tw.Render()
				return nil
			})
		},
	}
	bindTimeFilters(cmd, &f)
	return cmd
}

func timeAverageCmd() *cobra.Command {
	var weeks int
	cmd := &cobra.Command{
		Use:   "average",
		Short: "Average billable hours per employee per week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				avg, err := e.AverageBillableHoursPerEmployee(ctx, weeks, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(avg)
				}
				printAverage(avg)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&weeks, "weeks", 0, "number of ISO weeks (defaults to config)")
	return cmd
}

func printAverage(avg timeledger.Average) {
	fmt.Printf("%d weeks, %s to %s\n", avg.Weeks, avg.From, avg.To)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"User", "Billable h/week", "Total h/week", "Billable %"})
	for _, emp := range avg.Employees {
		tw.AppendRow(table.Row{emp.UserID, emp.AvgBillableHoursPerWeek, emp.AvgTotalHoursPerWeek, emp.BillablePercent})
	}
	tw.AppendFooter(table.Row{"Team", avg.TeamAverage, "", ""})
	tw.Render()
}
