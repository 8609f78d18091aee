package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// referenceData is the YAML document loaded by "clients import".
type referenceData struct {
	IRSCategories []irsCategoryDoc `yaml:"irs_categories"`
	Clients       []clientDoc      `yaml:"clients"`
}

type irsCategoryDoc struct {
	Worksheet   string `yaml:"worksheet"`
	Line        string `yaml:"line"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type clientDoc struct {
	Profile    *profileDoc   `yaml:"profile"`
	ClientID   string        `yaml:"client_id"`
	Categories []categoryDoc `yaml:"categories"`
}

type profileDoc struct {
	CompanyName         string `yaml:"company_name"`
	BusinessType        string `yaml:"business_type"`
	BusinessDescription string `yaml:"business_description"`
	Location            string `yaml:"location"`
	CommonExpenses      string `yaml:"common_expenses"`
	CustomCategories    string `yaml:"custom_categories"`
	IndustryKeywords    string `yaml:"industry_keywords"`
	CategoryPatterns    string `yaml:"category_patterns"`
	BusinessRules       string `yaml:"business_rules"`
}

type categoryDoc struct {
	Worksheet   string `yaml:"worksheet"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TaxYear     int    `yaml:"tax_year"`
}

type referenceStore interface {
	service.ProfileStore
	service.CategoryStore
}

func clientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage client profiles and categories",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load IRS categories, business profiles and client categories",
		Long: `Load reference data used by the agents from a YAML document:

  irs_categories:
    - {worksheet: 6A, line: "8", name: Advertising}
  clients:
    - client_id: acme
      profile: {company_name: Acme Studio, business_type: LLC}
      categories:
        - {worksheet: 6A, name: Studio Rental}

IRS categories (by worksheet and line) and profiles are updated in place;
client categories are added.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			data, err := parseReferenceData(f)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counts, err := importReferenceData(ctx, store, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Loaded %d IRS categories, %d profiles, %d client categories",
				counts.irs, counts.profiles, counts.categories)))
			return nil
		},
	})
	cmd.AddCommand(clientsGenerateProfileCmd())
	return cmd
}

func clientsGenerateProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-profile <client-id>",
		Short: "Fill in a client's expense context with a profile agent",
		Long: `Ask the business profile agent to draft the common expenses, custom
categories, industry keywords, category patterns and business rules of an
existing profile from its company name, type, location and description.
Fields the agent leaves out keep their current values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentName, _ := cmd.Flags().GetString("agent")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			p, err := newPipeline(ctx, cfg, store, slog.Default(), slog.Default())
			if err != nil {
				return err
			}
			a, err := p.table.Agent(agentName)
			if errors.Is(err, common.ErrNotFound) {
				return common.NewUserError(fmt.Sprintf("Unknown agent %q; run 'agents bootstrap' to install the defaults", agentName), err)
			}
			if err != nil {
				return err
			}

			profile, err := generateProfile(ctx, store, p.orchestrator, a, args[0], !dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.RenderBox(profile.CompanyName, formatProfile(profile)))
			if dryRun {
				fmt.Fprintln(out, cli.FormatInfo("Dry run; the profile was not saved"))
			} else {
				fmt.Fprintln(out, cli.FormatSuccess("Profile updated for "+profile.ClientID))
			}
			return nil
		},
	}
	cmd.Flags().String("agent", model.BusinessProfileAgent, "name of the profile agent to run")
	cmd.Flags().Bool("dry-run", false, "show the generated fields without saving them")
	return cmd
}

type profileGenerator interface {
	GenerateProfile(ctx context.Context, agent *model.Agent, profile *model.BusinessProfile) (*model.BusinessProfile, error)
}

// generateProfile runs a profile agent over a stored profile and optionally
// saves the result.
func generateProfile(
	ctx context.Context,
	store service.ProfileStore,
	gen profileGenerator,
	a *model.Agent,
	clientID string,
	save bool,
) (*model.BusinessProfile, error) {
	current, err := store.GetBusinessProfile(ctx, clientID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewUserError(
			fmt.Sprintf("Client %q has no business profile; add one with 'clients import' first", clientID), err)
	}
	if err != nil {
		return nil, err
	}

	generated, err := gen.GenerateProfile(ctx, a, current)
	if err != nil {
		return nil, fmt.Errorf("generating profile for %s: %w", clientID, err)
	}
	if !save {
		return generated, nil
	}
	if err := store.SaveBusinessProfile(ctx, generated); err != nil {
		return nil, fmt.Errorf("saving profile for %s: %w", clientID, err)
	}
	return generated, nil
}

func formatProfile(p *model.BusinessProfile) string {
	rows := []struct{ label, value string }{
		{"Common expenses", p.CommonExpenses},
		{"Custom categories", p.CustomCategories},
		{"Industry keywords", p.IndustryKeywords},
		{"Category patterns", p.CategoryPatterns},
		{"Business rules", p.BusinessRules},
	}
	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", r.label, r.value)
	}
	return b.String()
}

func parseReferenceData(r io.Reader) (*referenceData, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var data referenceData
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("parsing reference data: %w", err)
	}
	for i, c := range data.Clients {
		if c.ClientID == "" {
			return nil, fmt.Errorf("clients[%d]: client_id is required", i)
		}
	}
	return &data, nil
}

type importCounts struct {
	irs        int
	profiles   int
	categories int
}

func importReferenceData(ctx context.Context, store referenceStore, data *referenceData) (importCounts, error) {
	var counts importCounts
	for _, c := range data.IRSCategories {
		worksheet := c.Worksheet
		if worksheet == "" {
			worksheet = model.WorksheetDefault
		}
		err := store.SaveIRSCategory(ctx, &model.IRSCategory{
			Worksheet:   worksheet,
			LineNumber:  c.Line,
			Name:        c.Name,
			Description: c.Description,
			IsActive:    true,
		})
		if err != nil {
			return counts, fmt.Errorf("saving IRS category %q: %w", c.Name, err)
		}
		counts.irs++
	}

	for _, client := range data.Clients {
		if p := client.Profile; p != nil {
			err := store.SaveBusinessProfile(ctx, &model.BusinessProfile{
				ClientID:            client.ClientID,
				CompanyName:         p.CompanyName,
				BusinessType:        p.BusinessType,
				BusinessDescription: p.BusinessDescription,
				Location:            p.Location,
				CommonExpenses:      p.CommonExpenses,
				CustomCategories:    p.CustomCategories,
				IndustryKeywords:    p.IndustryKeywords,
				CategoryPatterns:    p.CategoryPatterns,
				BusinessRules:       p.BusinessRules,
			})
			if err != nil {
				return counts, fmt.Errorf("saving profile for %s: %w", client.ClientID, err)
			}
			counts.profiles++
		}

		for _, c := range client.Categories {
			worksheet := c.Worksheet
			if worksheet == "" {
				worksheet = model.WorksheetDefault
			}
			err := store.SaveBusinessCategory(ctx, &model.BusinessCategory{
				ClientID:    client.ClientID,
				Worksheet:   worksheet,
				Name:        c.Name,
				Description: c.Description,
				TaxYear:     c.TaxYear,
				IsActive:    true,
			})
			if err != nil {
				return counts, fmt.Errorf("saving category %q for %s: %w", c.Name, client.ClientID, err)
			}
			counts.categories++
		}
	}
	return counts, nil
}
