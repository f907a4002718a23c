// Package main provides the graphfed CLI entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/graphfed/pkg/audit"
	"github.com/orneryd/graphfed/pkg/codec"
	"github.com/orneryd/graphfed/pkg/graph"
	"github.com/orneryd/graphfed/pkg/node"
	"github.com/orneryd/graphfed/pkg/rdf"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphfed",
		Short: "graphfed - federated RDF named-graph store",
		Long: `graphfed manages named RDF graphs spread over several storage providers.

Features:
  • Weighted provider routing with fallback
  • Per-graph access policies with glob patterns
  • Persistent Badger storage and in-memory overlays
  • N-Quads and JSON-LD import/export
  • Append-only audit log`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("user", "", "Authenticate as this user")
	rootCmd.PersistentFlags().String("password", "", "Password for --user (default $GRAPHFED_PASSWORD)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphfed v%s (%s)\n", version, commit)
		},
	})

	// Graphs commands
	graphsCmd := &cobra.Command{
		Use:   "graphs",
		Short: "Named graph operations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List readable graphs",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().Bool("mutable", false, "Only mutable graphs")
	listCmd.Flags().Bool("immutable", false, "Only immutable graphs")
	graphsCmd.AddCommand(listCmd)

	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	createCmd.Flags().Bool("immutable", false, "Create an immutable graph")
	createCmd.Flags().String("from", "", "Initial content file")
	createCmd.Flags().String("format", "", "Format of --from: nquads or jsonld (default: from extension)")
	graphsCmd.AddCommand(createCmd)

	graphsCmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})

	importCmd := &cobra.Command{
		Use:   "import NAME FILE",
		Short: "Add the triples in FILE to a mutable graph",
		Args:  cobra.ExactArgs(2),
		RunE:  runImport,
	}
	importCmd.Flags().String("format", "", "nquads or jsonld (default: from extension)")
	graphsCmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export NAME [NAME...]",
		Short: "Write graphs to stdout; several names are exported as their union",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExport,
	}
	exportCmd.Flags().String("format", "nquads", "nquads or jsonld")
	graphsCmd.AddCommand(exportCmd)

	contextCmd := &cobra.Command{
		Use:   "context NAME RESOURCE",
		Short: "Write the context of RESOURCE in a graph",
		Long: `Write the triples describing RESOURCE: every triple that mentions it, and
transitively the triples of the blank nodes reached that way.`,
		Args: cobra.ExactArgs(2),
		RunE: runContext,
	}
	contextCmd.Flags().String("format", "nquads", "nquads or jsonld")
	contextCmd.Flags().Bool("document", false, "Also follow IRIs in the same document as RESOURCE")
	graphsCmd.AddCommand(contextCmd)

	rootCmd.AddCommand(graphsCmd)

	// Audit command
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		Args:  cobra.NoArgs,
		RunE:  runAudit,
	}
	auditCmd.Flags().StringSlice("type", nil, "Event types (GRAPH_CREATE, ACCESS_DENIED, ...)")
	auditCmd.Flags().String("for-user", "", "Only events by this user")
	auditCmd.Flags().String("graph", "", "Only events on this graph")
	auditCmd.Flags().Duration("since", 0, "Only events newer than this")
	auditCmd.Flags().Int("limit", 100, "Maximum events")
	rootCmd.AddCommand(auditCmd)

	// Password hashing for policy files
	hashCmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for a policy file user (reads the password from stdin)",
		Args:  cobra.NoArgs,
		RunE:  runHashPassword,
	}
	hashCmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	rootCmd.AddCommand(hashCmd)

	return rootCmd
}

// withApp builds the app from the global flags, logs in, and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv("GRAPHFED_PASSWORD")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, err := a.login(cmd.Context(), user, password)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func runList(cmd *cobra.Command, args []string) error {
	onlyMutable, _ := cmd.Flags().GetBool("mutable")
	onlyImmutable, _ := cmd.Flags().GetBool("immutable")
	if onlyMutable && onlyImmutable {
		return errors.New("--mutable and --immutable are exclusive")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		list := a.registry.List
		switch {
		case onlyMutable:
			list = a.registry.ListMutable
		case onlyImmutable:
			list = a.registry.ListImmutable
		}
		names, err := list(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n.Value())
		}
		return nil
	})
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := rdf.IRI(args[0])
	immutable, _ := cmd.Flags().GetBool("immutable")
	from, _ := cmd.Flags().GetString("from")

	var triples []rdf.Triple
	if from != "" {
		format, err := formatFor(cmd, from)
		if err != nil {
			return err
		}
		if triples, err = decodeFile(from, format); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if immutable {
			if _, err := a.registry.CreateImmutable(ctx, name, triples); err != nil {
				return err
			}
		} else {
			g, err := a.registry.Create(ctx, name)
			if err != nil {
				return err
			}
			if _, err := graph.AddAll(g, triples...); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d triples)\n", name.Value(), len(triples))
		return nil
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := rdf.IRI(args[0])
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.registry.Delete(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name.Value())
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	name, file := rdf.IRI(args[0]), args[1]
	format, err := formatFor(cmd, file)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	return withApp(cmd, func(ctx context.Context, a *app) error {
		g, err := a.registry.GetMutable(ctx, name)
		if err != nil {
			return err
		}
		n, err := codec.Read(f, g, format)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d triples into %s\n", n, name.Value())
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := flagFormat(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		layers := make([]graph.ImmutableGraph, 0, len(args))
		for _, arg := range args {
			g, err := a.registry.GetEither(ctx, rdf.IRI(arg))
			if err != nil {
				return err
			}
			layers = append(layers, g)
		}
		if len(layers) == 1 {
			return codec.Write(cmd.OutOrStdout(), layers[0], format)
		}
		u := graph.NewUnionGraphWithOptions(a.cfg.Lock.Options(), layers...)
		return codec.Write(cmd.OutOrStdout(), u, format)
	})
}

func runContext(cmd *cobra.Command, args []string) error {
	name, resource := rdf.IRI(args[0]), rdf.IRI(args[1])
	document, _ := cmd.Flags().GetBool("document")
	format, err := flagFormat(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		g, err := a.registry.GetEither(ctx, name)
		if err != nil {
			return err
		}
		n := node.New(resource, g)
		ctxGraph := n.Context()
		if document {
			ctxGraph = n.DocumentContext()
		}
		return codec.Write(cmd.OutOrStdout(), ctxGraph, format)
	})
}

func runAudit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	types, _ := cmd.Flags().GetStringSlice("type")
	user, _ := cmd.Flags().GetString("for-user")
	graphName, _ := cmd.Flags().GetString("graph")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	q := audit.Query{Username: user, Graph: graphName, Limit: limit}
	for _, t := range types {
		q.EventTypes = append(q.EventTypes, audit.EventType(strings.ToUpper(t)))
	}
	if since > 0 {
		q.StartTime = time.Now().Add(-since)
	}

	res, err := audit.NewReader(cfg.Audit.LogPath).Query(q)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range res.Events {
		status := "ok"
		if !e.Success {
			status = "FAILED"
		}
		fmt.Fprintf(out, "%s %-14s %-6s user=%s graph=%s %s\n",
			e.Timestamp.Format(time.RFC3339), e.Type, status, e.Username, e.Graph, e.Reason)
	}
	if res.HasMore {
		fmt.Fprintf(out, "... %d more\n", res.TotalCount-len(res.Events))
	}
	return nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	cost, _ := cmd.Flags().GetInt("cost")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}

func flagFormat(cmd *cobra.Command) (codec.Format, error) {
	f, _ := cmd.Flags().GetString("format")
	return codec.ParseFormat(f)
}

// formatFor returns the --format flag, or the format implied by file's extension.
func formatFor(cmd *cobra.Command, file string) (codec.Format, error) {
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		return codec.ParseFormat(f)
	}
	return codec.ParseFormat(filepath.Ext(file))
}

func decodeFile(path string, format codec.Format) ([]rdf.Triple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if format == codec.FormatJSONLD {
		return codec.DecodeJSONLD(f)
	}
	return codec.DecodeNQuads(f)
}
