package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nestormc/nestor/config"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/ipc"
	"github.com/nestormc/nestor/protocol"
	"github.com/nestormc/nestor/value"
)

type globalFlags struct {
	address string
	timeout time.Duration
	zlib    bool
	json    bool
}

// newRootCmd returns the command tree writing results to out.
func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "nestorctl",
		Short:         "Query and drive a running nestord over its control socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&g.address, "address", "a", config.DefaultSocketAddress,
		"Control socket address")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "Request timeout")
	root.PersistentFlags().BoolVar(&g.zlib, "zlib", false, "Compress requests and answers")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "Print JSON instead of text")

	root.AddCommand(
		pingCmd(g),
		getCmd(g),
		matchCmd(g),
		actionsCmd(g),
		doCmd(g),
	)
	return root
}

// withConn runs fn on a fresh connection bounded by the request timeout.
func (g *globalFlags) withConn(cmd *cobra.Command, fn func(ctx context.Context, c *ipc.Conn) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()

	var opts []ipc.DialOption
	if g.zlib {
		opts = append(opts, ipc.WithZlib())
	}
	c, err := ipc.Dial(ctx, g.address, opts...)
	if err != nil {
		return err
	}
	err = fn(ctx, c)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func pingCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withConn(cmd, func(ctx context.Context, c *ipc.Conn) error {
				if err := c.Ping(ctx); err != nil {
					return err
				}
				cmd.Println("OK")
				return nil
			})
		},
	}
}

func getCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get OBJREF...",
		Short: "Print objects by reference",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withConn(cmd, func(ctx context.Context, c *ipc.Conn) error {
				objs, err := c.Get(ctx, args...)
				if err != nil {
					return err
				}
				return g.printObjects(cmd.OutOrStdout(), objs)
			})
		},
	}
}

func matchCmd(g *globalFlags) *cobra.Command {
	var (
		query   string
		types   []string
		offset  int
		limit   int
		sortBy  string
		reverse bool
		refs    bool
	)
	cmd := &cobra.Command{
		Use:   "match OWNER[,OWNER...]",
		Short: "Search objects of one or more providers",
		Example: `  nestorctl match media --expr 'artist == "Miles Davis"' --sort year
  nestorctl match media,radio --type track --limit 10 --refs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := expr.Parse(query)
			if err != nil {
				return err
			}
			q := ipc.MatchQuery{
				Owners:      strings.Split(args[0], ","),
				Expr:        e,
				Types:       types,
				Detail:      protocol.DetailProps,
				Offset:      offset,
				Limit:       limit,
				SortField:   sortBy,
				SortReverse: reverse,
			}
			if refs {
				q.Detail = protocol.DetailRefs
			}
			return g.withConn(cmd, func(ctx context.Context, c *ipc.Conn) error {
				objs, err := c.Match(ctx, q)
				if err != nil {
					return err
				}
				return g.printObjects(cmd.OutOrStdout(), objs)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "expr", "e", "", "Filter expression")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Only objects of these types")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many results")
	cmd.Flags().IntVar(&limit, "limit", 0, "Return at most this many results, 0 for all")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort by this property")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "Reverse the sort order")
	cmd.Flags().BoolVar(&refs, "refs", false, "Only print references")
	return cmd
}

func actionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "actions PROCESSOR OBJREF",
		Short: "List the actions a processor offers on an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withConn(cmd, func(ctx context.Context, c *ipc.Conn) error {
				actions, err := c.Actions(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return g.printActions(cmd.OutOrStdout(), actions)
			})
		},
	}
}

func doCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "do PROCESSOR ACTION OBJREF [NAME=VALUE...]",
		Short:   "Execute an action",
		Example: `  nestorctl do player enqueue media:t1 playlist=media:p1 position=3`,
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[3:])
			if err != nil {
				return err
			}
			return g.withConn(cmd, func(ctx context.Context, c *ipc.Conn) error {
				progress, err := c.Execute(ctx, args[0], args[1], args[2], params)
				if err != nil {
					return err
				}
				if g.json {
					status := map[string]string{"status": "success"}
					if progress != "" {
						status = map[string]string{"status": "processing", "progress": progress}
					}
					return writeJSON(cmd.OutOrStdout(), status)
				}
				if progress != "" {
					cmd.Printf("processing %s\n", progress)
					return nil
				}
				cmd.Println("success")
				return nil
			})
		},
	}
}

// parseParams reads NAME=VALUE arguments. Values are sent as strings; the
// daemon converts them to the declared parameter types.
func parseParams(args []string) (map[string]value.Value, error) {
	params := make(map[string]value.Value, len(args))
	for _, arg := range args {
		name, val, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q is not NAME=VALUE", arg)
		}
		params[name] = value.String(val)
	}
	return params, nil
}

type objectOutput struct {
	Ref   string     `json:"objref"`
	Types []string   `json:"types,omitempty"`
	Props *value.Map `json:"props,omitempty"`
}

func (g *globalFlags) printObjects(w io.Writer, objs []ipc.ObjectInfo) error {
	if g.json {
		out := make([]objectOutput, 0, len(objs))
		for _, o := range objs {
			oo := objectOutput{Ref: o.Ref, Types: o.Types}
			if o.Props != nil && o.Props.Len() > 0 {
				oo.Props = o.Props
			}
			out = append(out, oo)
		}
		return writeJSON(w, out)
	}
	for _, o := range objs {
		if len(o.Types) > 0 {
			_, _ = fmt.Fprintf(w, "%s [%s]\n", o.Ref, strings.Join(o.Types, ","))
		} else {
			_, _ = fmt.Fprintln(w, o.Ref)
		}
		if o.Props == nil {
			continue
		}
		keys := o.Props.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := o.Props.Get(k)
			_, _ = fmt.Fprintf(w, "  %s = %s\n", k, v.String())
		}
	}
	return nil
}

type paramOutput struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Optional bool         `json:"optional,omitempty"`
	Default  *value.Value `json:"default,omitempty"`
}

type actionOutput struct {
	Name   string        `json:"name"`
	Params []paramOutput `json:"params"`
}

func (g *globalFlags) printActions(w io.Writer, actions []ipc.ActionInfo) error {
	out := make([]actionOutput, 0, len(actions))
	for _, a := range actions {
		ao := actionOutput{Name: a.Name, Params: []paramOutput{}}
		for _, p := range a.Params {
			po := paramOutput{Name: p.Name, Type: p.Type.String(), Optional: p.Optional}
			if !p.Default.IsNull() {
				d := p.Default
				po.Default = &d
			}
			ao.Params = append(ao.Params, po)
		}
		out = append(out, ao)
	}
	if g.json {
		return writeJSON(w, out)
	}
	for _, a := range out {
		_, _ = fmt.Fprintln(w, a.Name)
		for _, p := range a.Params {
			line := fmt.Sprintf("  %s %s", p.Name, p.Type)
			if p.Optional {
				line += " (optional)"
			}
			if p.Default != nil {
				line += " default " + p.Default.String()
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
