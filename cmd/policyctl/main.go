package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neomorfeo/inspectiq/internal/domain"
	"github.com/neomorfeo/inspectiq/internal/policy"
	"github.com/neomorfeo/inspectiq/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags may also be set through
// POLICYCTL_* environment variables, e.g. POLICYCTL_TRANSITIONS.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("POLICYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "policyctl",
		Short: "Inspect the inspectiq workflow policy",
		Long: `policyctl audits the transition table and route map used by the
inspectiq server. Without --transitions or --routes it reads the embedded
defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("transitions", "", "transition table YAML (default: embedded)")
	root.PersistentFlags().String("routes", "", "route map YAML (default: embedded)")
	root.PersistentFlags().Bool("json", false, "output JSON")
	_ = v.BindPFlag("transitions", root.PersistentFlags().Lookup("transitions"))
	_ = v.BindPFlag("routes", root.PersistentFlags().Lookup("routes"))
	_ = v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	load := func() (*policy.Policy, error) {
		return policy.LoadFiles(v.GetString("transitions"), v.GetString("routes"))
	}

	root.AddCommand(checkCmd(v, load))
	root.AddCommand(rulesCmd(v, load))
	root.AddCommand(actionsCmd(v, load))
	root.AddCommand(accessCmd(v, load))
	return root
}

type loader func() (*policy.Policy, error)

type checkSummary struct {
	Rules  map[domain.EntityKind]int `json:"rules"`
	States map[domain.EntityKind]int `json:"states"`
	Routes int                       `json:"routes"`
}

func checkCmd(v *viper.Viper, load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate both tables and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := load()
			if err != nil {
				return err
			}
			sum := checkSummary{
				Rules:  map[domain.EntityKind]int{},
				States: map[domain.EntityKind]int{},
				Routes: pol.Resolver.Len(),
			}
			for _, r := range pol.Table.Rules() {
				sum.Rules[r.Kind]++
			}
			for _, k := range domain.Kinds {
				sum.States[k] = len(pol.Table.States(k))
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(out, sum)
			}
			for _, k := range domain.Kinds {
				fmt.Fprintf(out, "%s: %d states, %d rules\n", k, sum.States[k], sum.Rules[k])
			}
			fmt.Fprintf(out, "routes: %d\n", sum.Routes)
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}

type ruleView struct {
	Kind       domain.EntityKind    `json:"kind"`
	From       domain.WorkflowState `json:"from"`
	Action     domain.Action        `json:"action"`
	To         domain.WorkflowState `json:"to"`
	Label      string               `json:"label"`
	Permission string               `json:"permission"`
	Priority   int                  `json:"priority"`
	Flags      []string             `json:"flags,omitempty"`
	Params     []string             `json:"params,omitempty"`
	Effects    []domain.Effect      `json:"effects,omitempty"`
}

func newRuleView(r domain.TransitionRule) ruleView {
	var flags []string
	if r.Destructive {
		flags = append(flags, "destructive")
	}
	if r.RequiresReason {
		flags = append(flags, "reason")
	}
	if r.RequiresConfirmation {
		flags = append(flags, "confirm")
	}
	return ruleView{
		Kind:       r.Kind,
		From:       r.From,
		Action:     r.Action,
		To:         r.To,
		Label:      r.Label,
		Permission: r.Permission,
		Priority:   r.Priority,
		Flags:      flags,
		Params:     r.Params,
		Effects:    r.Effects,
	}
}

func rulesCmd(v *viper.Viper, load loader) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List transition rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := domain.EntityKind(kind)
			if kind != "" && !k.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			pol, err := load()
			if err != nil {
				return err
			}
			var rules []ruleView
			for _, r := range pol.Table.Rules() {
				if kind == "" || r.Kind == k {
					rules = append(rules, newRuleView(r))
				}
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(out, rules)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Kind", "From", "Action", "To", "Permission", "Priority", "Flags", "Effects"})
			for _, r := range rules {
				tw.AppendRow(table.Row{r.Kind, r.From, r.Action, r.To, r.Permission, r.Priority, strings.Join(r.Flags, ","), joinEffects(r.Effects)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "entity kind filter (plan, round)")
	return cmd
}

type actionView struct {
	Code       domain.Action `json:"code"`
	Label      string        `json:"label"`
	Permission string        `json:"permission,omitempty"`
	Priority   int           `json:"priority"`
	Separator  bool          `json:"separator_before,omitempty"`
}

func actionsCmd(v *viper.Viper, load loader) *cobra.Command {
	var (
		kind  string
		state string
		perms []string
	)
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Show the actions offered for a kind and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := domain.EntityKind(kind)
			if !k.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			pol, err := load()
			if err != nil {
				return err
			}
			s := domain.WorkflowState(state)
			if !pol.Table.Declares(k, s) {
				return fmt.Errorf("state %q is not declared for %s", state, k)
			}
			entity := domain.Entity{Kind: k, State: s}
			actions := workflow.NewAuthorizer(pol.Table).AvailableActions(entity, domain.NewPermissionSet(perms...))

			views := make([]actionView, 0, len(actions))
			for _, a := range actions {
				views = append(views, actionView{
					Code:       a.Code,
					Label:      a.Label,
					Permission: a.Permission,
					Priority:   a.Priority,
					Separator:  a.SeparatorBefore,
				})
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(out, views)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Action", "Label", "Permission", "Priority"})
			for _, a := range views {
				if a.Separator {
					tw.AppendSeparator()
				}
				tw.AppendRow(table.Row{a.Code, a.Label, a.Permission, a.Priority})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "entity kind (plan, round)")
	cmd.Flags().StringVar(&state, "state", "", "workflow state")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "held permission code (repeatable)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

type accessView struct {
	Path       string `json:"path"`
	Allowed    bool   `json:"allowed"`
	Permission string `json:"permission,omitempty"`
	Route      string `json:"route,omitempty"`
	Inherited  bool   `json:"inherited,omitempty"`
}

func accessCmd(v *viper.Viper, load loader) *cobra.Command {
	var (
		path  string
		perms []string
	)
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Resolve the permission a path requires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := load()
			if err != nil {
				return err
			}
			d := pol.Resolver.Check(path, domain.NewPermissionSet(perms...))
			view := accessView{Path: d.Path, Allowed: d.Allowed, Permission: d.Permission}
			if d.Matched != nil {
				view.Route = d.Matched.Pattern
				view.Inherited = d.Matched.Inherited
			}
			out := cmd.OutOrStdout()
			if v.GetBool("json") {
				return printJSON(out, view)
			}
			route := view.Route
			if route == "" {
				route = "(none)"
			} else if view.Inherited {
				route += " (inherited)"
			}
			required := view.Permission
			if required == "" {
				required = "(open)"
			}
			verdict := "denied"
			if view.Allowed {
				verdict = "allowed"
			}
			fmt.Fprintf(out, "path:       %s\nroute:      %s\npermission: %s\nresult:     %s\n", view.Path, route, required, verdict)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "screen or sub-resource path")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "held permission code (repeatable)")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func joinEffects(effects []domain.Effect) string {
	names := make([]string, len(effects))
	for i, e := range effects {
		names[i] = string(e)
	}
	return strings.Join(names, ",")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
