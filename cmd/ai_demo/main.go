package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"vectra/internal/ai"
	"vectra/internal/config"
	"vectra/internal/geo"
)

func main() {
	geohash := flag.String("geohash", "dr5ru7v", "address geohash to predict for")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !geo.IsGeohash(*geohash) {
		log.Fatalf("%q is not a geohash", *geohash)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	predictor, closer, err := ai.NewPredictor(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("Failed to initialize AI predictor: %v", err)
	}
	defer closer.Close()

	center := geo.Center(*geohash)
	fmt.Printf("Backend: %s\n", cfg.AI.Backend)
	fmt.Printf("Cell: %s (%.6f, %.6f)\n", *geohash, center.Lat, center.Lon)

	start := time.Now()
	pred, err := predictor.PredictEntryPoints(ctx, *geohash)
	if err != nil {
		log.Fatalf("Error predicting entry points: %v", err)
	}
	fmt.Printf("Latency: %s\n", time.Since(start))

	for i, c := range pred.EntryPoints {
		fmt.Printf("%d. %-12s p=%.2f (%.6f, %.6f) %.1fm from centre\n",
			i+1, c.Type, c.Probability, c.Lat, c.Lon, geo.HaversineMeters(center, c.Point()))
	}
	best := pred.Best()
	fmt.Printf("Best: %s p=%.2f\n", best.Type, best.Probability)
}
