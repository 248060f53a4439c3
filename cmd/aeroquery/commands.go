package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"aeroquery/internal/batch"
	"aeroquery/internal/query"
	"aeroquery/internal/record"
)

func newIndexesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "List secondary indexes in the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")
			bin, _ := cmd.Flags().GetString("bin")

			found, err := a.tmpl.Indexes().Match(a.tmpl.Namespace(), set, bin)
			if err != nil {
				return err
			}

			p := a.printer(cmd)
			if p.isJSON() {
				type row struct {
					Name        string `json:"name"`
					Set         string `json:"set"`
					Bin         string `json:"bin"`
					Type        string `json:"type"`
					Collection  string `json:"collection"`
					Context     string `json:"context,omitempty"`
					Cardinality int64  `json:"cardinality,omitempty"`
				}
				rows := make([]row, len(found))
				for i, md := range found {
					rows[i] = row{md.Name, md.Set, md.Bin, md.Type.String(), md.Collection.String(), md.Context.Key(), md.CardinalityRatio}
				}
				return p.json(rows)
			}

			rows := make([][]string, len(found))
			for i, md := range found {
				rows[i] = []string{
					md.Name, orDash(md.Set), md.Bin, md.Type.String(), md.Collection.String(),
					orDash(md.Context.Key()), strconv.FormatInt(md.CardinalityRatio, 10),
				}
			}
			p.table([]string{"NAME", "SET", "BIN", "TYPE", "COLLECTION", "CONTEXT", "CARDINALITY"}, rows)
			return nil
		},
	}
	cmd.Flags().String("set", "", "only indexes on this set")
	cmd.Flags().String("bin", "*", "glob matched against bin names")
	return cmd
}

func newServerVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server-version",
		Short: "Print the server version and the features it supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := a.tmpl.Versions()
			caps := v.Capabilities()

			p := a.printer(cmd)
			if p.isJSON() {
				return p.json(map[string]any{
					"version":      v.ServerVersion(),
					"capabilities": caps,
				})
			}
			pairs := [][2]string{{"version", v.ServerVersion()}}
			for _, name := range slices.Sorted(maps.Keys(caps)) {
				pairs = append(pairs, [2]string{name, strconv.FormatBool(caps[name])})
			}
			p.kv(pairs)
			return nil
		},
	}
}

func newExplainCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show how a query would be planned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")
			where, _ := cmd.Flags().GetString("where")

			q, err := parseWhere(where)
			if err != nil {
				return err
			}
			opts, err := queryOptions(cmd)
			if err != nil {
				return err
			}
			st, err := a.tmpl.Explain(set, q, opts...)
			if err != nil {
				return err
			}

			p := a.printer(cmd)
			if p.isJSON() {
				decisions := make([]string, len(st.Decisions))
				for i, d := range st.Decisions {
					decisions[i] = d.String()
				}
				out := map[string]any{
					"id":        st.ID.String(),
					"indexed":   st.Indexed(),
					"decisions": decisions,
				}
				if st.Filter != nil {
					out["filter"] = st.Filter.String()
					out["index"] = st.Filter.Index
				}
				if st.Residual != nil {
					out["residual"] = st.Residual.String()
				}
				return p.json(out)
			}
			_, err = fmt.Fprint(a.out, st.Explain())
			return err
		},
	}
	cmd.Flags().String("set", "", "set name (empty for the whole namespace)")
	cmd.Flags().String("where", "", `qualifier as JSON, e.g. {"bin":"age","op":"gt","values":[30]}`)
	addBoundsFlags(cmd)
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query and print the matching records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")
			where, _ := cmd.Flags().GetString("where")

			q, err := parseWhere(where)
			if err != nil {
				return err
			}
			opts, err := queryOptions(cmd)
			if err != nil {
				return err
			}
			it, err := a.tmpl.Find(cmd.Context(), set, q, opts...)
			if err != nil {
				return err
			}
			recs, err := record.Collect(it)
			if err != nil {
				return err
			}
			return printRecords(a.printer(cmd), recs)
		},
	}
	cmd.Flags().String("set", "", "set name (empty for the whole namespace)")
	cmd.Flags().String("where", "", "qualifier as JSON; empty scans the set")
	addBoundsFlags(cmd)
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get KEY...",
		Short: "Read records by user key in batches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _ := cmd.Flags().GetString("set")
			bins, _ := cmd.Flags().GetStringSlice("bins")
			stringKeys, _ := cmd.Flags().GetBool("string-keys")

			ids := make([]any, len(args))
			for i, arg := range args {
				ids[i] = userKey(arg, stringKeys)
			}
			out, err := a.tmpl.FindByIDs(cmd.Context(), set, ids, bins...)
			var pf *batch.PartialFailure
			if err != nil && !errors.As(err, &pf) {
				return err
			}

			var recs []record.Record
			for _, o := range out {
				if o.Found {
					recs = append(recs, o.Record)
				}
			}
			if perr := printRecords(a.printer(cmd), recs); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().String("set", "", "set name")
	cmd.Flags().StringSlice("bins", nil, "bins to read (default all)")
	cmd.Flags().Bool("string-keys", false, "treat every key as a string")
	return cmd
}

func userKey(arg string, stringKeys bool) any {
	if !stringKeys {
		if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
			return n
		}
	}
	return arg
}

func addBoundsFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("bins", nil, "bins to return (default all)")
	cmd.Flags().Int64("limit", 0, "maximum records, 0 for no limit")
	cmd.Flags().Int64("offset", 0, "records to skip")
	cmd.Flags().StringSlice("sort", nil, "sort bins, suffix with :desc for descending")
}

func queryOptions(cmd *cobra.Command) ([]query.Option, error) {
	var opts []query.Option
	if bins, _ := cmd.Flags().GetStringSlice("bins"); len(bins) > 0 {
		opts = append(opts, query.WithBins(bins...))
	}
	limit, _ := cmd.Flags().GetInt64("limit")
	offset, _ := cmd.Flags().GetInt64("offset")
	if limit < 0 || offset < 0 {
		return nil, errors.New("--limit and --offset must not be negative")
	}
	if limit > 0 {
		opts = append(opts, query.WithLimit(limit))
	}
	if offset > 0 {
		opts = append(opts, query.WithOffset(offset))
	}
	sorts, _ := cmd.Flags().GetStringSlice("sort")
	for _, s := range sorts {
		bin, dir, _ := strings.Cut(s, ":")
		switch strings.ToLower(dir) {
		case "", "asc":
			opts = append(opts, query.WithSort(bin, false))
		case "desc":
			opts = append(opts, query.WithSort(bin, true))
		default:
			return nil, fmt.Errorf("sort %q: direction must be asc or desc", s)
		}
	}
	return opts, nil
}

func printRecords(p *printer, recs []record.Record) error {
	if p.isJSON() {
		type row struct {
			Key        string         `json:"key"`
			Generation uint32         `json:"generation"`
			Bins       map[string]any `json:"bins"`
		}
		rows := make([]row, len(recs))
		for i, r := range recs {
			rows[i] = row{r.Key.String(), r.Generation, r.Bins}
		}
		return p.json(rows)
	}

	// Columns are the union of bin names.
	seen := make(map[string]struct{})
	for _, r := range recs {
		for b := range r.Bins {
			seen[b] = struct{}{}
		}
	}
	bins := slices.Sorted(maps.Keys(seen))

	rows := make([][]string, len(recs))
	for i, r := range recs {
		row := []string{fmt.Sprint(r.Key.UserKey)}
		for _, b := range bins {
			v, ok := r.Bins[b]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprint(v))
		}
		rows[i] = row
	}
	p.table(append([]string{"KEY"}, bins...), rows)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
