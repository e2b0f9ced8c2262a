package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cite-guard/bibtex"
	"cite-guard/config"
	"cite-guard/providers"
	"cite-guard/providers/crossref"
	"cite-guard/providers/europepmc"
	"cite-guard/providers/pubmed"
	"cite-guard/services"
	"cite-guard/storage"
)

var (
	verbose bool
	asJSON  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "citectl",
		Short: "Resolve and inspect citations from the command line",
		Long: `citectl runs the citation pipeline without a database.

It resolves BibTeX files against the DOI and PMID registries, scores title
pairs and lists the in-text markers of a generated fragment.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log registry traffic")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(similarityCmd())
	rootCmd.AddCommand(markersCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// registries baut DOI- und PMID-Register aus der Umgebung.
func registries(logger *zap.Logger) (providers.Registry, providers.Registry, error) {
	cfg, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("load registry config: %w", err)
	}
	doi := crossref.NewFetcher(cfg, logger)
	switch cfg.PMIDRegistry {
	case "europepmc":
		return doi, europepmc.NewFetcher(cfg, logger), nil
	case "pubmed":
		return doi, pubmed.NewFetcher(cfg, logger), nil
	}
	return nil, nil, fmt.Errorf("unknown PMID registry %q", cfg.PMIDRegistry)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <file.bib>",
		Short: "Resolve every entry of a BibTeX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			logger := newLogger()
			doi, pmid, err := registries(logger)
			if err != nil {
				return err
			}
			batch := services.NewBatchResolver(services.NewResolver(doi, pmid, logger), logger)
			result := batch.ResolveAll(cmd.Context(), string(data))

			if asJSON {
				return printJSON(result)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tTIER\tEVIDENCE\tVALUE")
			for _, r := range result.Resolved {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.CiteKey, r.ProvenanceTier, r.EvidenceType, r.EvidenceValue)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(w, "%s\t-\terror\t%s\n", e.CiteKey, e.Message)
			}
			return w.Flush()
		},
	}
}

func ingestCmd() *cobra.Command {
	var project, marker string
	cmd := &cobra.Command{
		Use:   "ingest <fragment.txt>",
		Short: "Run a generated fragment through ingestion and print the verified bibliography",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			logger := newLogger()
			doi, pmid, err := registries(logger)
			if err != nil {
				return err
			}
			store := storage.NewMemoryStore()
			ingestor := services.NewIngestor(store, services.NewBatchResolver(services.NewResolver(doi, pmid, logger), logger), doi, logger)
			if marker != "" {
				ingestor.Marker = marker
			}
			summary, err := ingestor.Ingest(cmd.Context(), project, string(data))
			if err != nil {
				return err
			}
			export, err := services.NewExporter(store, nil, logger).Export(cmd.Context(), project)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(map[string]any{"summary": summary, "export": export})
			}
			fmt.Printf("total %d, tier A %d, tier D %d, errors %d, orphans %v\n\n",
				summary.Total, summary.TierA, summary.TierD, summary.Errors, summary.Orphans)
			fmt.Print(export.Bibtex)
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "cli", "project id")
	cmd.Flags().StringVar(&marker, "marker", "", "trailer marker (default "+services.DefaultTrailerMarker+")")
	return cmd
}

func similarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similarity <title-a> <title-b>",
		Short: "Score two titles the way the resolver does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score := services.Similarity(args[0], args[1])
			if asJSON {
				return printJSON(map[string]any{
					"a":        services.NormalizeTitle(args[0]),
					"b":        services.NormalizeTitle(args[1]),
					"score":    score,
					"accepted": score >= services.TitleMatchThreshold,
					"no_drift": score >= services.DriftThreshold,
				})
			}
			fmt.Printf("%.4f (accept >= %.2f: %t)\n", score, services.TitleMatchThreshold, score >= services.TitleMatchThreshold)
			return nil
		},
	}
}

func markersCmd() *cobra.Command {
	var marker string
	cmd := &cobra.Command{
		Use:   "markers <fragment.txt>",
		Short: "List in-text citation keys and whether the trailer covers them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			frag := services.SplitFragment(string(data), marker)
			inTrailer := map[string]bool{}
			for _, e := range bibtex.ParseEntries(frag.Trailer) {
				inTrailer[e.Key] = true
			}

			type row struct {
				Key       string `json:"key"`
				InTrailer bool   `json:"in_trailer"`
				Query     string `json:"orphan_query,omitempty"`
			}
			var rows []row
			for _, key := range services.ExtractMarkerKeys(frag.Body) {
				r := row{Key: key, InTrailer: inTrailer[key]}
				if !r.InTrailer {
					r.Query, _ = services.OrphanQuery(key)
				}
				rows = append(rows, r)
			}

			if asJSON {
				return printJSON(map[string]any{"salvaged": frag.Salvaged, "markers": rows})
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tTRAILER\tORPHAN QUERY")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%t\t%s\n", r.Key, r.InTrailer, r.Query)
			}
			if frag.Salvaged {
				fmt.Fprintln(w, "(trailer salvaged from inline entries)")
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&marker, "marker", services.DefaultTrailerMarker, "trailer marker")
	return cmd
}
