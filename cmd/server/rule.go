package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jack/qr-redirect-service/internal/model"
)

func newRuleCmd(c *cli) *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage routing rules",
	}
	rule.AddCommand(newRuleAddCmd(c), newRuleListCmd(c))
	return rule
}

func newRuleAddCmd(c *cli) *cobra.Command {
	var (
		req       model.CreateRuleRequest
		ruleType  string
		condition string
		inactive  bool
	)

	cmd := &cobra.Command{
		Use:   "add <code>",
		Short: "Attach a routing rule to a code",
		Example: `  qr-redirect rule add ABC123 --type device --condition '{"devices":["mobile"]}' --destination https://m.example.com
  qr-redirect rule add ABC123 --type scanLimit --condition '{"maxScans":100,"exceededUrl":"https://example.com/sold-out"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Type = model.RuleType(ruleType)
			req.Condition = json.RawMessage(condition)
			active := !inactive
			req.Active = &active

			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.service.CreateRule(cmd.Context(), args[0], &req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d (%s, priority %d) added to %s\n", created.ID, created.Type, created.Priority, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&ruleType, "type", "", "device, time, language, scanLimit, geo or userAgent")
	cmd.Flags().StringVar(&condition, "condition", "", "condition as JSON")
	cmd.Flags().StringVar(&req.Destination, "destination", "", "destination when the rule matches")
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "higher runs first")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store the rule disabled")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("condition")

	return cmd
}

func newRuleListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list <code>",
		Short: "List the routing rules of a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.service.ListRules(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range rules {
				state := "active"
				if !r.Active {
					state = "inactive"
				}
				if r.Condition == nil {
					state = "malformed"
				}
				fmt.Fprintf(out, "%d\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.Type, r.Priority, state, r.RawCondition, r.Destination)
			}
			return nil
		},
	}
}
