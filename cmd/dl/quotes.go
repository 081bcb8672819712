package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
)

func quoteCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "quote",
		Short: "Quote approval workflow",
		Long:  "Submit, approve or reject, then send. Each submission or rollback stores a new version.",
	}
	q.AddCommand(quoteSubmitCmd())
	q.AddCommand(quoteDraftCmd())
	q.AddCommand(quoteDecisionCmd("approve"))
	q.AddCommand(quoteDecisionCmd("reject"))
	q.AddCommand(quoteSendCmd())
	q.AddCommand(quoteRollbackCmd())
	q.AddCommand(quoteVersionsCmd())
	q.AddCommand(quoteDiffCmd())
	return q
}

// parseItems reads "description=amount" pairs; the last '=' separates the amount.
func parseItems(in []string) ([]domain.LineItem, error) {
	out := []domain.LineItem{}
	for _, raw := range in {
		i := strings.LastIndex(raw, "=")
		if i < 0 {
			return nil, fmt.Errorf("item %q: expected description=amount", raw)
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(raw[i+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", raw, err)
		}
		out = append(out, domain.LineItem{Description: strings.TrimSpace(raw[:i]), Amount: domain.Euros(amount)})
	}
	return out, nil
}

type quoteFlags struct {
	items       []string
	description string
	hours       float64
}

func (f *quoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.items, "item", nil, "line item description=amount, repeatable")
	cmd.Flags().StringVar(&f.description, "description", "", "quote description")
	cmd.Flags().Float64Var(&f.hours, "hours", 0, "estimated hours")
}

func (f *quoteFlags) hoursPtr(cmd *cobra.Command) *float64 {
	if !cmd.Flags().Changed("hours") {
		return nil
	}
	return &f.hours
}

func quoteSubmitCmd() *cobra.Command {
	var f quoteFlags
	var value float64
	cmd := &cobra.Command{
		Use:   "submit <lead-id>",
		Short: "Submit the quote for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := parseItems(f.items)
			if err != nil {
				return err
			}
			s := engine.QuoteSubmission{LineItems: items, Description: f.description, EstimatedHours: f.hoursPtr(cmd)}
			if cmd.Flags().Changed("value") {
				v := domain.Euros(value)
				s.QuoteValue = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SubmitQuote(ctx, args[0], s, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().Float64Var(&value, "value", 0, "expected total; must match the items")
	return cmd
}

func quoteDraftCmd() *cobra.Command {
	var f quoteFlags
	cmd := &cobra.Command{
		Use:   "draft <lead-id>",
		Short: "Save the quote without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := parseItems(f.items)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SaveQuoteDraft(ctx, args[0], engine.QuoteDraft{
					LineItems:      items,
					Description:    f.description,
					EstimatedHours: f.hoursPtr(cmd),
				}, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func quoteDecisionCmd(decision string) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   decision + " <lead-id>",
		Short: strings.ToUpper(decision[:1]) + decision[1:] + " the pending quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				decide := e.ApproveQuote
				if decision == "reject" {
					decide = e.RejectQuote
				}
				l, err := decide(ctx, args[0], message, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "feedback for the engineer")
	return cmd
}

func quoteSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <lead-id>",
		Short: "Send the approved quote to the client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SendQuote(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

func quoteRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <lead-id> <version>",
		Short: "Restore an earlier version as a new pending version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.RollbackQuote(ctx, args[0], version, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

func quoteVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <lead-id>",
		Short: "List quote versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				versions, err := e.QuoteVersions(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(versions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Status", "Value", "Items", "Created", "By"})
				for _, v := range versions {
					tw.AppendRow(table.Row{v.Version, v.Status, v.Value.String(), len(v.LineItems), v.CreatedAt, v.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func quoteDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <lead-id> <version>",
		Short: "Show line item changes against the previous version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				changes, err := e.QuoteDiff(ctx, args[0], version, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(changes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Change", "Item", "Old", "New"})
				for _, c := range changes {
					tw.AppendRow(table.Row{c.Type, c.Description, moneyCell(c.OldValue), moneyCell(c.NewValue)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func moneyCell(m *domain.Money) string {
	if m == nil {
		return ""
	}
	return m.String()
}

func teamCmd() *cobra.Command {
	t := &cobra.Command{Use: "team", Short: "Team roles and turn (aan zet)"}
	t.AddCommand(teamSetCmd())
	t.AddCommand(teamToggleCmd())
	t.AddCommand(teamAanZetCmd())
	return t
}

func teamSetCmd() *cobra.Command {
	var pl, rk, tk string
	cmd := &cobra.Command{
		Use:   "set <lead-id>",
		Short: "Assign role slots; pass an empty value to clear",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u engine.TeamUpdate
			if cmd.Flags().Changed("projectleider") {
				u.Projectleider = &pl
			}
			if cmd.Flags().Changed("rekenaar") {
				u.Rekenaar = &rk
			}
			if cmd.Flags().Changed("tekenaar") {
				u.Tekenaar = &tk
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateTeamAssignments(ctx, args[0], u, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	cmd.Flags().StringVar(&pl, "projectleider", "", "projectleider user id")
	cmd.Flags().StringVar(&rk, "rekenaar", "", "rekenaar user id")
	cmd.Flags().StringVar(&tk, "tekenaar", "", "tekenaar user id")
	return cmd
}

func teamToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <lead-id> <role> [user-id]",
		Short: "Assign a role, or clear it when the user already holds it",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var user *string
			if len(args) == 3 {
				user = optionalString(args[2])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SetRole(ctx, args[0], domain.Role(args[1]), user, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

func teamAanZetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aan-zet <lead-id> [role]",
		Short: "Point the turn at a role, or clear it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var role *domain.Role
			if len(args) == 2 && args[1] != "" {
				r := domain.Role(args[1])
				role = &r
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateAanZet(ctx, args[0], role, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}
