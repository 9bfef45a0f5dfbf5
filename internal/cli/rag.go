package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/agentlab/internal/metrics"
	"github.com/harun/agentlab/pkg/rag"
	"github.com/harun/agentlab/pkg/vectorstore"
)

var (
	ingestFile  string
	ingestWatch bool
	topK        int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the vector index",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the configured index if it does not exist and print its stats",
	Args:  cobra.NoArgs,
	RunE:  runIndexCreate,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the configured index's stats",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the indexes of the vector store",
	Args:  cobra.NoArgs,
	RunE:  runIndexList,
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the configured index and all its vectors",
	Args:  cobra.NoArgs,
	RunE:  runIndexDelete,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Split a text file into chunks, embed them and upsert them into the index",
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Print the chunks nearest to a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetrieve,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "text file to ingest")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "keep running and re-ingest the file whenever it changes")
	ingestCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "with --watch, serve prometheus metrics on this address")
	_ = ingestCmd.MarkFlagRequired("file")

	retrieveCmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "number of results")

	indexCmd.AddCommand(indexCreateCmd, indexStatsCmd, indexListCmd, indexDeleteCmd)
	rootCmd.AddCommand(indexCmd, ingestCmd, retrieveCmd)
}

func runIndexCreate(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, store, err := a.openPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	vs := a.cfg.VectorStore
	created, err := p.EnsureIndex(cmd.Context(), vs.Metric, vs.Cloud, vs.Region)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if created {
		fmt.Fprintf(out, "Index '%s' created.\n", p.Index())
	} else {
		fmt.Fprintf(out, "Index '%s' already exists.\n", p.Index())
	}
	return printStats(cmd, p)
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, store, err := a.openPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	return printStats(cmd, p)
}

func printStats(cmd *cobra.Command, p *rag.Pipeline) error {
	stats, err := p.Stats(cmd.Context())
	if err != nil {
		return err
	}
	writeStats(cmd.OutOrStdout(), p.Index(), stats)
	return nil
}

func writeStats(out io.Writer, index string, stats *vectorstore.IndexStats) {
	fmt.Fprintf(out, "Connected to index '%s'.\n", index)
	fmt.Fprintf(out, "Dimension: %d\n", stats.Dimension)
	fmt.Fprintf(out, "Total vectors: %d\n", stats.TotalVectorCount)

	names := make([]string, 0, len(stats.Namespaces))
	for ns := range stats.Namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		label := ns
		if label == "" {
			label = "(default)"
		}
		fmt.Fprintf(out, "  Namespace %s: %d vectors\n", label, stats.Namespaces[ns].VectorCount)
	}
}

func runIndexList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := newVectorStore(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	indexes, err := store.ListIndexes(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(indexes) == 0 {
		fmt.Fprintln(out, "No indexes")
		return nil
	}
	for _, idx := range indexes {
		fmt.Fprintf(out, "%s\tdimension=%d\tmetric=%s\n", idx.Name, idx.Dimension, idx.Metric)
	}
	return nil
}

func runIndexDelete(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := newVectorStore(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteIndex(cmd.Context(), a.cfg.VectorStore.Index); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Index '%s' deleted.\n", a.cfg.VectorStore.Index)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, store, err := a.openPipeline(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	n, err := p.IngestFile(ctx, ingestFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Ingested %d chunks from %s into index '%s' (namespace '%s').\n", n, ingestFile, p.Index(), p.Namespace())

	if !ingestWatch {
		return nil
	}

	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr, a.logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	w, err := rag.NewWatcher(rag.WatcherConfig{
		Pipeline: p,
		Path:     ingestFile,
		OnIngest: func(n int, err error) {
			if err != nil {
				fmt.Fprintf(out, "Re-ingest failed: %v\n", err)
				return
			}
			fmt.Fprintf(out, "Re-ingested %d chunks from %s.\n", n, ingestFile)
		},
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(out, "Watching %s for changes. Press Ctrl-C to stop.\n", ingestFile)
	<-ctx.Done()
	return nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, store, err := a.openPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	query := args[0]
	results, err := p.Retrieve(cmd.Context(), query, topK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Retrieved %d results for query: '%s'\n", len(results), query)
	fmt.Fprintln(out, "---")
	for i, r := range results {
		fmt.Fprintf(out, "Result %d:\n", i+1)
		fmt.Fprintf(out, "  ID: %s\n", r.ID)
		fmt.Fprintf(out, "  Score: %.4f\n", r.Score)
		if r.Text != "" {
			fmt.Fprintf(out, "  Text: %s\n", r.Text)
		} else {
			fmt.Fprintf(out, "  Metadata: %v\n", r.Metadata)
		}
		fmt.Fprintln(out, "---")
	}
	return nil
}
