package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"larkspur.is/curfew/internal/control"
)

// RunRules lists every tracked rule, or flips a rule's selection.
func RunRules(configFile, selectID, unselectID string) error {
	return withController(configFile, func(ctrl *control.Controller) error {
		if selectID != "" {
			if err := ctrl.Select(selectID, true); err != nil {
				return err
			}
			fmt.Printf("Rule %s is now managed\n", selectID)
			return nil
		}
		if unselectID != "" {
			if err := ctrl.Select(unselectID, false); err != nil {
				return err
			}
			fmt.Printf("Rule %s is no longer managed\n", unselectID)
			return nil
		}

		rules, err := ctrl.AllRules()
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No rules tracked yet. Run 'curfew refresh' to discover candidates.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPERSON\tSCHEDULE\tMANAGED")
		for _, r := range rules {
			schedule := string(r.ScheduleMode)
			if r.ScheduleStart != "" {
				schedule = fmt.Sprintf("%s %s-%s", r.ScheduleMode, r.ScheduleStart, r.ScheduleEnd)
			}
			managed := "no"
			if r.Selected {
				managed = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RuleID, r.Name, r.Person, schedule, managed)
		}
		return w.Flush()
	})
}
