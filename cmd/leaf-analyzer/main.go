package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	leafanalyzer "github.com/menta2k/leaf-analyzer"
	"github.com/menta2k/leaf-analyzer/internal/config"
	"github.com/menta2k/leaf-analyzer/pkg/types"
)

func main() {
	var indexDir, queryPath, evalDir, configPath, outPath string
	var k int

	flag.StringVar(&indexDir, "index", "", "reference dataset directory (one subdirectory per disease category)")
	flag.StringVar(&queryPath, "query", "", "leaf image to diagnose (jpg/png/webp)")
	flag.StringVar(&evalDir, "eval", "", "labeled dataset directory to evaluate against itself")
	flag.StringVar(&configPath, "config", "", "configuration file (json or yaml)")
	flag.StringVar(&outPath, "out", "", "write the full result as JSON to this file")
	flag.IntVar(&k, "k", 0, "neighbor count per query (overrides config)")

	flag.Parse()
	if queryPath == "" && evalDir == "" {
		log.Fatalf("usage: %s -index dataset [-query leaf.jpg | -eval dataset] [-config file] [-k 5] [-out report.json]",
			filepath.Base(os.Args[0]))
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if k > 0 {
		cfg.K = k
	}

	la, err := leafanalyzer.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to create analyzer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if indexDir != "" {
		counts, err := la.IndexDirectory(ctx, indexDir)
		if err != nil {
			log.Fatalf("Indexing failed: %v", err)
		}
		categories := make([]string, 0, len(counts))
		total := 0
		for category, n := range counts {
			categories = append(categories, category)
			total += n
		}
		sort.Strings(categories)
		for _, category := range categories {
			log.Printf("indexed %s: %d images", category, counts[category])
		}
		log.Printf("reference index ready: %d images in %d categories", total, len(counts))
	}

	switch {
	case queryPath != "":
		result, err := la.DiagnoseFile(ctx, queryPath)
		if err != nil {
			log.Fatalf("Diagnosis failed: %v", err)
		}
		printDiagnosis(result)
		writeJSON(outPath, result)

	case evalDir != "":
		report, err := la.EvaluateDirectory(ctx, evalDir)
		if err != nil {
			log.Fatalf("Evaluation failed: %v", err)
		}
		printReport(report)
		writeJSON(outPath, report)
	}
}

func printDiagnosis(result leafanalyzer.Result) {
	fmt.Printf("diagnosis: %s\n", result.Diagnosis.Category)
	fmt.Printf("confidence: %.1f%%\n", result.Diagnosis.Confidence)
	fmt.Printf("neighbors: %d (agreement %.0f%%, distance %.4f..%.4f)\n",
		len(result.Diagnosis.Neighbors),
		result.Diagnosis.Stats.Agreement*100,
		result.Diagnosis.Stats.MinDistance,
		result.Diagnosis.Stats.MaxDistance)
	fmt.Printf("risk: %s (score %.2f)\n", result.Risk.Level, result.Risk.Score)
	for _, factor := range result.Risk.Factors {
		fmt.Printf("  - %s: %s\n", factor.Code, factor.Explanation)
	}
}

func printReport(report types.EvaluationReport) {
	fmt.Printf("evaluated: %d/%d (skipped %d)\n", report.Evaluated, report.Total, report.Skipped)
	fmt.Printf("accuracy: %.1f%% (%d correct)\n", report.Accuracy*100, report.Correct)

	categories := make([]string, 0, len(report.PerCategory))
	for category := range report.PerCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		m := report.PerCategory[category]
		if m.Unsupported {
			fmt.Printf("  %s: precision/recall unsupported (no predictions or no samples)\n", category)
			continue
		}
		fmt.Printf("  %s: precision %.2f recall %.2f f1 %.2f\n", category, m.Precision, m.Recall, m.F1)
	}

	for _, level := range []types.RiskLevel{types.RiskLow, types.RiskMedium, types.RiskHigh} {
		bucket, ok := report.RiskBuckets[level]
		if !ok {
			continue
		}
		fmt.Printf("  risk %s: %d items, %.1f%% correct\n", level, bucket.Count, bucket.Accuracy*100)
	}
}

func writeJSON(path string, v any) {
	if path == "" {
		return
	}
	js, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("marshal result failed: %v", err)
		return
	}
	if err := os.WriteFile(path, js, 0o644); err != nil {
		log.Printf("write %s failed: %v", path, err)
		return
	}
	log.Printf("wrote %s", path)
}
