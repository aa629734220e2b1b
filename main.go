package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTopN = 20

type RunSummary struct {
	FechaBase         string `json:"fecha_base"`
	MinMonths         int    `json:"min_months"`
	HistoriaRows      int    `json:"historia_rows"`
	SkippedRows       int    `json:"skipped_rows"`
	NegativeBalances  int    `json:"negative_balances"`
	WithdrawalRecords int    `json:"withdrawal_records"`
	TotalClients      int    `json:"total_clients"`
	QualifyingClients int    `json:"qualifying_clients"`
}

type Report struct {
	Summary      RunSummary     `json:"summary"`
	LevelSummary map[string]int `json:"level_summary"`
	TopStreaks   []StreakResult `json:"top_streaks"`
	Results      []StreakResult `json:"results"`
}

func main() {
	historiaPath := flag.String("historia", "", "Path to historia_saldos CSV")
	retirosPath := flag.String("retiros", "", "Path to retiros CSV")
	fechaBase := flag.String("fecha-base", "", "Reference date (YYYY-MM-DD)")
	minMonths := flag.Int("n", 0, "Minimum consecutive months for a qualifying streak")
	outPath := flag.String("out", "resultados_rachas.csv", "Results CSV output path")
	topN := flag.Int("top", defaultTopN, "Top N streaks to print")
	jsonOut := flag.String("json", "", "Optional JSON report path")
	dbEnabled := flag.Bool("db", false, "Store the run in Postgres (requires RACHAS_DB_URL or DATABASE_URL)")
	dbSchema := flag.String("db-schema", "rachas", "Postgres schema for run tables")
	dbTag := flag.String("db-tag", "", "Optional label for this run")
	initDB := flag.Bool("init-db", false, "Initialize database schema and seed data if empty")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *historiaPath == "" {
		log.Fatal("--historia is required")
	}
	if *retirosPath == "" {
		log.Fatal("--retiros is required")
	}
	if *fechaBase == "" {
		log.Fatal("--fecha-base is required")
	}
	ref, err := time.Parse("2006-01-02", *fechaBase)
	if err != nil {
		log.Fatalf("invalid --fecha-base, expected YYYY-MM-DD: %v", err)
	}
	if *minMonths <= 0 {
		log.Fatal("--n must be a positive integer")
	}

	log.Infof("Parametros: fecha_base=%s, n=%d", *fechaBase, *minMonths)

	historia, stats, err := loadHistoria(*historiaPath, log)
	if err != nil {
		log.Fatalf("loading historia: %v", err)
	}
	log.Infof("historia: %d registros cargados (omitidos: %d, negativos: %d)",
		stats.Loaded, stats.Skipped, stats.Negatives)

	retiros, skippedRetiros, err := loadRetiros(*retirosPath, log)
	if err != nil {
		log.Fatalf("loading retiros: %v", err)
	}
	log.Infof("retiros: %d registros cargados (omitidos: %d)", len(retiros), skippedRetiros)

	results, err := computeStreaks(historia, retiros, dateOnly(ref), *minMonths)
	if err != nil {
		log.Fatalf("computing streaks: %v", err)
	}
	log.Infof("%d clientes con rachas >= %d meses", len(results), *minMonths)

	report := buildReport(results, stats, len(retiros), countClients(historia), *fechaBase, *minMonths, *topN)
	printReport(report)

	if err := writeResultsCSV(results, *outPath); err != nil {
		log.Fatalf("writing results: %v", err)
	}
	log.Infof("Resultados guardados en: %s", *outPath)

	if *jsonOut != "" {
		if err := writeJSON(report, *jsonOut); err != nil {
			log.Fatalf("writing JSON report: %v", err)
		}
		log.Infof("Reporte JSON guardado en: %s", *jsonOut)
	}

	if *dbEnabled || *initDB {
		dbURL := dbURLFromEnv()
		if dbURL == "" {
			log.Fatal("database URL missing; set RACHAS_DB_URL or DATABASE_URL")
		}
		cfg := DBConfig{URL: dbURL, Schema: *dbSchema, Tag: *dbTag}
		seeded := false
		if *initDB {
			runID, err := seedDatabase(report, cfg)
			if err != nil {
				log.Fatalf("seeding database: %v", err)
			}
			if runID != "" {
				seeded = true
				log.Infof("Seeded Postgres with initial run (run_id=%s)", runID)
			} else {
				log.Info("Run data already present; skipping seed.")
			}
		}
		if *dbEnabled {
			if seeded {
				log.Info("Skipped duplicate insert; current run already used for seed.")
			} else {
				runID, err := storeRunInDB(report, cfg)
				if err != nil {
					log.Fatalf("storing run: %v", err)
				}
				log.Infof("Stored run in Postgres (run_id=%s)", runID)
			}
		}
	}
}

func buildReport(results []StreakResult, stats LoadStats, withdrawalRecords, totalClients int, fechaBase string, minMonths, topN int) Report {
	levelSummary := map[string]int{}
	for _, row := range results {
		levelSummary[row.Level.String()]++
	}

	topStreaks := append([]StreakResult{}, results...)
	sort.Slice(topStreaks, func(i, j int) bool {
		if topStreaks[i].Length != topStreaks[j].Length {
			return topStreaks[i].Length > topStreaks[j].Length
		}
		if !topStreaks[i].EndMonth.Equal(topStreaks[j].EndMonth) {
			return topStreaks[i].EndMonth.After(topStreaks[j].EndMonth)
		}
		return topStreaks[i].ClientID < topStreaks[j].ClientID
	})
	if topN > 0 && len(topStreaks) > topN {
		topStreaks = topStreaks[:topN]
	}

	return Report{
		Summary: RunSummary{
			FechaBase:         fechaBase,
			MinMonths:         minMonths,
			HistoriaRows:      stats.Loaded,
			SkippedRows:       stats.Skipped,
			NegativeBalances:  stats.Negatives,
			WithdrawalRecords: withdrawalRecords,
			TotalClients:      totalClients,
			QualifyingClients: len(results),
		},
		LevelSummary: levelSummary,
		TopStreaks:   topStreaks,
		Results:      results,
	}
}

func countClients(historia []BalanceObservation) int {
	seen := map[string]struct{}{}
	for _, obs := range historia {
		seen[obs.ClientID] = struct{}{}
	}
	return len(seen)
}

func printReport(report Report) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("RESULTADOS: Top %d rachas (de %d totales)\n", len(report.TopStreaks), report.Summary.QualifyingClients)
	fmt.Println(strings.Repeat("=", 80))
	if len(report.TopStreaks) == 0 {
		fmt.Println("  Sin rachas que cumplan el minimo.")
	}
	for _, row := range report.TopStreaks {
		fmt.Printf("  %-20s | racha: %2d meses | fin: %s | nivel: %s\n",
			row.ClientID, row.Length, formatDate(row.EndMonth), row.Level)
	}
	if rest := report.Summary.QualifyingClients - len(report.TopStreaks); rest > 0 {
		fmt.Printf("  ... y %d clientes mas\n", rest)
	}
	fmt.Println(strings.Repeat("=", 80))

	if len(report.LevelSummary) > 0 {
		fmt.Println("\nNiveles (racha ganadora)")
		fmt.Println(strings.Repeat("-", 38))
		levels := make([]string, 0, len(report.LevelSummary))
		for level := range report.LevelSummary {
			levels = append(levels, level)
		}
		sort.Strings(levels)
		for _, level := range levels {
			fmt.Printf("%s: %d\n", level, report.LevelSummary[level])
		}
	}
	fmt.Println()
}

func writeResultsCSV(results []StreakResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"identificacion", "racha", "fecha_fin", "nivel"}); err != nil {
		return err
	}
	for _, row := range results {
		record := []string{
			row.ClientID,
			fmt.Sprintf("%d", row.Length),
			formatDate(row.EndMonth),
			row.Level.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(report Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
