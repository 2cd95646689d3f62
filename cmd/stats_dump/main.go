package main

import (
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/23skdu/longbow-smooth/internal/statstore"
	"github.com/23skdu/longbow-smooth/internal/tensor"
)

func main() {
	statsPath := flag.String("stats", "", "Path to statistics blob (Arrow IPC)")
	showValues := flag.Int("values", 8, "Number of leading channel values to print per boundary")
	flag.Parse()

	if *statsPath == "" {
		log.Fatal("--stats is required")
	}

	stats, err := statstore.Load(*statsPath)
	if err != nil {
		log.Fatalf("Failed to load statistics: %v", err)
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("=== Calibration statistics (%d boundaries) ===\n", len(names))
	for _, name := range names {
		vec := stats[name]
		limit := *showValues
		if limit > len(vec) {
			limit = len(vec)
		}
		fmt.Printf("%s channels=%d abs_max=%.4f head=%v\n",
			name, len(vec), tensor.AbsMax(vec), vec[:limit])
	}
}
