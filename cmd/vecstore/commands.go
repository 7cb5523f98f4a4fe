package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecstore/vectorstore"
)

type vectorInfo struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Dim       int      `json:"dim"`
	Distance  string   `json:"distance"`
	Total     int      `json:"total"`
	Deleted   int      `json:"deleted"`
	Available int      `json:"available"`
	Files     []string `json:"files,omitempty"`
	Failed    string   `json:"failed,omitempty"`
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			m, err := g.openManager(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, m.Close()) }()

			var infos []vectorInfo
			for _, s := range m.Vectors() {
				info := vectorInfo{
					Name:      s.Name,
					Kind:      s.Kind.String(),
					Dim:       s.Dim,
					Distance:  s.Distance,
					Total:     s.Total,
					Deleted:   s.Deleted,
					Available: s.Available,
					Files:     s.Files,
				}
				if s.Failed != nil {
					info.Failed = s.Failed.Error()
				}
				infos = append(infos, info)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"vectors": infos,
					"columns": m.Columns(),
				})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tDIM\tDISTANCE\tTOTAL\tDELETED\tAVAILABLE")
			for _, i := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n", i.Name, i.Kind, i.Dim, i.Distance, i.Total, i.Deleted, i.Available)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <vector> <dense|memmap>",
		Short: "Convert a vector storage to another backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			kind, err := vectorstore.ParseKind(args[1])
			if err != nil {
				return err
			}
			m, err := g.openManager(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, m.Close()) }()

			if err := m.Migrate(cmd.Context(), args[0], kind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s to %s\n", args[0], kind)
			return nil
		},
	}
}

func newFlushCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Flush all storages to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			m, err := g.openManager(cmd)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, m.Close()) }()
			return m.Flush(cmd.Context())
		},
	}
}
