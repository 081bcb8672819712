package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/repo"
)

func leadCmd() *cobra.Command {
	lead := &cobra.Command{Use: "lead", Short: "Manage dossiers"}
	lead.AddCommand(leadCreateCmd())
	lead.AddCommand(leadListCmd())
	lead.AddCommand(leadShowCmd())
	lead.AddCommand(leadUpdateCmd())
	lead.AddCommand(leadStatusCmd())
	lead.AddCommand(leadPhaseCmd())
	lead.AddCommand(leadComplexCmd())
	lead.AddCommand(leadSpecCmd())
	lead.AddCommand(leadAssignCmd())
	return lead
}

func leadCreateCmd() *cobra.Command {
	var in engine.LeadInput
	var value float64
	var specs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a dossier",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Value = domain.Euros(value)
			parsed, err := parseSpecs(specs)
			if err != nil {
				return err
			}
			in.Specifications = parsed
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateLead(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "lead id (generated when empty)")
	cmd.Flags().StringVar(&in.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&in.ClientEmail, "email", "", "client email")
	cmd.Flags().StringVar(&in.ClientPhone, "phone", "", "client phone")
	cmd.Flags().StringVar(&in.ClientCompany, "company", "", "client company")
	cmd.Flags().StringVar(&in.ProjectType, "project-type", "", "project type")
	cmd.Flags().StringVar(&in.Address, "address", "", "site address")
	cmd.Flags().StringVar(&in.City, "city", "", "site city")
	cmd.Flags().Float64Var(&value, "value", 0, "estimated project value in euros")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&in.IsComplexProject, "complex", false, "use the design phase track")
	cmd.Flags().StringArrayVar(&specs, "spec", nil, "specification key=value[:unit], repeatable")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

// parseSpecs reads key=value or key=value:unit pairs.
func parseSpecs(in []string) ([]domain.Specification, error) {
	out := []domain.Specification{}
	for _, raw := range in {
		key, rest, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("spec %q: expected key=value", raw)
		}
		s := domain.Specification{Key: strings.TrimSpace(key), Value: rest}
		if v, unit, ok := strings.Cut(rest, ":"); ok {
			s.Value, s.Unit = v, unit
		}
		out = append(out, s)
	}
	return out, nil
}

func leadListCmd() *cobra.Command {
	var f repo.LeadFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dossiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				leads, err := e.ListLeads(ctx, f, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Status", "Phase", "Quote", "Value", "Aan zet"})
				for _, l := range leads {
					phase := l.ExecutionPhase
					if phase == nil {
						phase = l.DesignPhase
					}
					aanZet := ""
					if l.AanZet != nil {
						aanZet = string(*l.AanZet)
					}
					p := ""
					if phase != nil {
						p = string(*phase)
					}
					tw.AppendRow(table.Row{l.ID, l.ClientName, l.Status, p, l.QuoteApproval, l.QuoteValue.String(), aanZet})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AanZet, "aan-zet", "", "role whose turn it is")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "user assigned in any role")
	cmd.Flags().StringVar(&f.Query, "q", "", "search client, company, address and city")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func leadShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a dossier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.GetLead(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

func leadUpdateCmd() *cobra.Command {
	var client, email, phone, company, projectType, address, city, notes string
	var value float64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update client and project details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p engine.LeadPatch
			strFlags := map[string]struct {
				dst **string
				v   *string
			}{
				"client":       {&p.ClientName, &client},
				"email":        {&p.ClientEmail, &email},
				"phone":        {&p.ClientPhone, &phone},
				"company":      {&p.ClientCompany, &company},
				"project-type": {&p.ProjectType, &projectType},
				"address":      {&p.Address, &address},
				"city":         {&p.City, &city},
				"notes":        {&p.Notes, &notes},
			}
			for name, f := range strFlags {
				if cmd.Flags().Changed(name) {
					*f.dst = f.v
				}
			}
			if cmd.Flags().Changed("value") {
				m := domain.Euros(value)
				p.Value = &m
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateLeadDetails(ctx, args[0], p, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "client email")
	cmd.Flags().StringVar(&phone, "phone", "", "client phone")
	cmd.Flags().StringVar(&company, "company", "", "client company")
	cmd.Flags().StringVar(&projectType, "project-type", "", "project type")
	cmd.Flags().StringVar(&address, "address", "", "site address")
	cmd.Flags().StringVar(&city, "city", "", "site city")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().Float64Var(&value, "value", 0, "estimated project value in euros")
	return cmd
}

func leadStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a dossier through the lifecycle",
		Long:  "Statuses: Nieuw, Calculatie, \"Offerte Verzonden\", Opdracht, Archief. Moving to Offerte Verzonden sends the approved quote.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateLeadStatus(ctx, args[0], domain.LeadStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

func leadPhaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phase <id> <phase>",
		Short: "Advance the execution or design sub-phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdatePhase(ctx, args[0], domain.Phase(args[1]), actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

func leadComplexCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "complex <id>",
		Short: "Mark a dossier as a complex project (design track)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SetComplexProject(ctx, args[0], !off, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "switch back to the execution track")
	return cmd
}

func leadSpecCmd() *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "specs <id>",
		Short: "Replace the specification list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSpecs(specs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.UpdateSpecifications(ctx, args[0], parsed, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "spec", nil, "specification key=value[:unit], repeatable")
	return cmd
}

func leadAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> [assignee]",
		Short: "Set or clear the single assignee",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignee := ""
			if len(args) == 2 {
				assignee = args[1]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.AssignLead(ctx, args[0], assignee, actorID())
				if err != nil {
					return err
				}
				return printLead(l, e.VATRate())
			})
		},
	}
}

type leadView struct {
	domain.Lead
	QuoteTotalInclVAT domain.Money `json:"quote_total_incl_vat"`
}

func printLead(l domain.Lead, vatRate float64) error {
	return printJSONOrTable(leadView{Lead: l, QuoteTotalInclVAT: l.QuoteTotalInclVAT(vatRate)})
}
