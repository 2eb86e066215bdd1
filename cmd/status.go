package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"larkspur.is/curfew/internal/control"
)

// RunStatus prints the derived state of the selected rules, or of one rule.
func RunStatus(configFile, ruleID string) error {
	return withController(configFile, func(ctrl *control.Controller) error {
		var statuses []*control.RuleStatus
		if ruleID != "" {
			st, err := ctrl.Status(ruleID)
			if err != nil {
				return err
			}
			statuses = []*control.RuleStatus{st}
		} else {
			var err error
			statuses, err = ctrl.StatusAll()
			if err != nil {
				return err
			}
		}

		if len(statuses) == 0 {
			fmt.Println("No rules selected. Run 'curfew rules' to see candidates.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tPERSON\tSTATE\tDETAIL")
		for _, st := range statuses {
			state := "allowing"
			if st.Blocking {
				state = "BLOCKING"
			}
			detail := st.Summary
			if st.Rule.Stale {
				detail += " (stale)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Rule.Name, st.Rule.Person, state, detail)
		}
		return w.Flush()
	})
}

// RunRefresh performs a one-shot remote sync.
func RunRefresh(configFile string) error {
	return withController(configFile, func(ctrl *control.Controller) error {
		start := time.Now()
		if err := ctrl.Refresh(); err != nil {
			return err
		}
		fmt.Printf("Refreshed in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	})
}
