package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tbourn/medtrack-backend/internal/domain"
	"github.com/tbourn/medtrack-backend/internal/search"
	"github.com/tbourn/medtrack-backend/internal/services"
)

func dosesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doses",
		Short: "Inspect and record today's doses",
	}
	cmd.AddCommand(dosesTodayCmd(g))
	cmd.AddCommand(dosesActCmd(g, "take", domain.StatusTaken))
	cmd.AddCommand(dosesActCmd(g, "skip", domain.StatusSkipped))
	return cmd
}

func dosesTodayCmd(g *globalFlags) *cobra.Command {
	var profileID string
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Print a profile's doses for today",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, closeDB, err := setup(cmd, g, true)
			if err != nil {
				return err
			}
			defer closeDB()

			doses, err := env.stack().Doses.ResolveToday(cmd.Context(), profileID)
			if err != nil {
				return err
			}
			return printDoses(cmd.OutOrStdout(), doses)
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

// dosesActCmd records target for one of today's doses, picked by medication
// name or id and slot ("08:00"). The board shows the change at once and
// restores the previous status if the engine refuses it.
func dosesActCmd(g *globalFlags, use string, target domain.DoseStatus) *cobra.Command {
	var profileID, medication, slot, notes string
	cmd := &cobra.Command{
		Use:   use,
		Short: "Mark one of today's doses as " + string(target),
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, closeDB, err := setup(cmd, g, true)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			st := env.stack()
			doses, err := st.Doses.ResolveToday(ctx, profileID)
			if err != nil {
				return err
			}
			d, ok := findDose(doses, medication, slot)
			if !ok {
				return fmt.Errorf("no dose of %q at %s today", medication, slot)
			}

			board := services.NewDoseBoard(doses, env.cfg.Schedule.Location())
			_, err = board.Apply(ctx, st.Doses, d.Ref(), target, services.WithNotes(notes))
			var rec *services.RecoverableError
			if errors.As(err, &rec) {
				env.log.Warn().Err(rec.Err).Str("restored", string(rec.Restored)).Msg("dose not recorded")
			}
			if perr := printDoses(cmd.OutOrStdout(), board.Doses()); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id")
	cmd.Flags().StringVar(&medication, "medication", "", "medication id or name")
	cmd.Flags().StringVar(&slot, "at", "", "slot time, HH:MM")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text note")
	for _, f := range []string{"profile", "medication", "at"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// findDose picks the dose at slot whose medication id or name equals
// medication, falling back to the best partial name match ("metf").
func findDose(doses []services.Dose, medication, slot string) (services.Dose, bool) {
	var atSlot []services.Dose
	for _, d := range doses {
		if d.Slot != slot {
			continue
		}
		if d.MedicationID == medication || strings.EqualFold(d.MedicationName, medication) {
			return d, true
		}
		atSlot = append(atSlot, d)
	}

	docs := make([]search.Doc, len(atSlot))
	for i, d := range atSlot {
		docs[i] = search.Doc{ID: strconv.Itoa(i), Text: d.MedicationName}
	}
	hits := search.NewIndex(docs).TopK(medication, 1)
	if len(hits) == 0 {
		return services.Dose{}, false
	}
	i, _ := strconv.Atoi(hits[0].ID)
	return atSlot[i], true
}

func printDoses(w io.Writer, doses []services.Dose) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tMEDICATION\tSTATUS\tNOTES")
	for _, d := range doses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Slot, d.MedicationName, d.Status, d.Notes)
	}
	return tw.Flush()
}
