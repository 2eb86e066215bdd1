package cmd

import (
	"errors"
	"fmt"
	"time"

	"larkspur.is/curfew/internal/control"
	"larkspur.is/curfew/internal/remote"
	"larkspur.is/curfew/internal/rule"
)

// RunAllow makes a rule stop blocking. With a duration it is temporary and
// reverts on its own; without one it is a toggle that sticks.
func RunAllow(configFile, ruleID string, d time.Duration) error {
	return withController(configFile, func(ctrl *control.Controller) error {
		if d > 0 {
			if err := ctrl.AllowFor(ruleID, d); err != nil {
				return explain(err)
			}
			fmt.Printf("Rule %s allowed for %s\n", ruleID, d)
			return nil
		}
		if err := ctrl.Toggle(ruleID, rule.IntentAllowTraffic); err != nil {
			return explain(err)
		}
		fmt.Printf("Rule %s is now allowing traffic\n", ruleID)
		return nil
	})
}

// RunBlock makes a rule block now.
func RunBlock(configFile, ruleID string) error {
	return withController(configFile, func(ctrl *control.Controller) error {
		if err := ctrl.Toggle(ruleID, rule.IntentBlockTraffic); err != nil {
			return explain(err)
		}
		fmt.Printf("Rule %s is now blocking\n", ruleID)
		return nil
	})
}

// RunDefer postpones the start of a rule's blocking window.
func RunDefer(configFile, ruleID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("defer requires -for with a positive duration")
	}
	return withController(configFile, func(ctrl *control.Controller) error {
		if err := ctrl.DelayFor(ruleID, d); err != nil {
			return explain(err)
		}
		fmt.Printf("Blocking for rule %s deferred by %s\n", ruleID, d)
		return nil
	})
}

// RunCancel ends a temporary exception early.
func RunCancel(configFile, ruleID string) error {
	return withController(configFile, func(ctrl *control.Controller) error {
		if err := ctrl.CancelException(ruleID); err != nil {
			return explain(err)
		}
		fmt.Printf("Exception for rule %s cancelled\n", ruleID)
		return nil
	})
}

// explain wraps the common remote failures with actionable hints.
func explain(err error) error {
	switch {
	case errors.Is(err, remote.ErrUnauthorized):
		return fmt.Errorf("%w\nCheck the API key ('curfew apikey -set')", err)
	case errors.Is(err, remote.ErrUnreachable):
		return fmt.Errorf("%w\nThe gateway did not respond; the rule was left unchanged", err)
	case errors.Is(err, control.ErrBusy):
		return fmt.Errorf("%w\nRetry in a moment", err)
	default:
		return err
	}
}
