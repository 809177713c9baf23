// Command barqbench is a development tool for exercising an embedded
// Barq-GraphDB database directly: it loads synthetic nodes and embeddings,
// then reports vector index recall and query latency. It is not a query
// frontend — it never accepts an ad hoc user query against a live
// database, only a fixed synthetic workload useful while tuning HNSW
// parameters or comparing index backends during development, the same role
// the example pack's own eval command plays against a running server.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	barq "github.com/YASSERRMD/barq-graphdb"
	"github.com/YASSERRMD/barq-graphdb/pkg/eval"
	"github.com/YASSERRMD/barq-graphdb/pkg/vectorindex"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "barqbench",
		Short: "Benchmark a Barq-GraphDB vector index against a synthetic workload",
	}
	root.AddCommand(newRecallCmd())
	return root
}

func newRecallCmd() *cobra.Command {
	var (
		n        int
		dim      int
		k        int
		m        int
		efSearch int
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Compare proximity-graph recall@k against the exact brute-force index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecall(cmd, n, dim, k, m, efSearch, seed)
		},
	}
	cmd.Flags().IntVar(&n, "n", 5000, "number of synthetic vectors to install")
	cmd.Flags().IntVar(&dim, "dim", 16, "vector dimension")
	cmd.Flags().IntVar(&k, "k", 10, "k for kNN")
	cmd.Flags().IntVar(&m, "hnsw-m", 16, "HNSW M parameter")
	cmd.Flags().IntVar(&efSearch, "ef-search", 100, "HNSW ef_search parameter")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for synthetic vectors")
	return cmd
}

func runRecall(cmd *cobra.Command, n, dim, k, m, efSearch int, seed int64) error {
	dir, err := os.MkdirTemp("", "barqbench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	db, err := barq.Open(dir,
		barq.WithIndexType(barq.IndexHNSW),
		barq.WithAsyncIndexing(false),
		barq.WithHNSWParams(m, 200, efSearch),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bruteforce := vectorindex.NewBruteForce()
	rng := rand.New(rand.NewSource(seed))

	ctx := context.Background()
	for i := 0; i < n; i++ {
		vec := randomVector(rng, dim)
		if err := db.AppendNode(barq.Node{ID: barq.NodeID(i + 1)}); err != nil {
			return err
		}
		if err := db.SetEmbedding(ctx, barq.NodeID(i+1), vec); err != nil {
			return err
		}
		if _, err := bruteforce.Install(vec); err != nil {
			return err
		}
	}

	query := randomVector(rng, dim)
	start := time.Now()
	approx, err := db.KNNSearch(ctx, query, k)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	exact, err := bruteforce.KNN(ctx, query, k, nil, nil)
	if err != nil {
		return err
	}

	var approxIDs, exactIDs []barq.NodeID
	for _, r := range approx {
		approxIDs = append(approxIDs, r.Node)
	}
	for _, r := range exact {
		exactIDs = append(exactIDs, barq.NodeID(r.Slot)+1)
	}

	recall := eval.Recall(approxIDs, exactIDs, k)
	cmd.Printf("n=%d dim=%d k=%d M=%d ef_search=%d recall@%d=%.3f latency=%s\n",
		n, dim, k, m, efSearch, k, recall, elapsed)
	return nil
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}
