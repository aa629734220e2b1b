package main

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeTempCSV(t *testing.T, pattern string, data string) string {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := file.WriteString(data); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}
	return file.Name()
}

func TestLoadHistoriaNormalizesAndClamps(t *testing.T) {
	csvData := "identificacion,corte_mes,saldo\n" +
		"C1,2024-01-15,250000\n" +
		"C1,2024-02-29,\"1,500,000\"\n" +
		",2024-03-31,100\n" +
		"C2,not-a-date,100\n" +
		"C2,2024-03-31,-500\n"

	path := writeTempCSV(t, "historia-*.csv", csvData)

	rows, stats, err := loadHistoria(path, discardLogger())
	if err != nil {
		t.Fatalf("loadHistoria: %v", err)
	}
	if stats.Loaded != 3 || stats.Skipped != 2 || stats.Negatives != 1 {
		t.Fatalf("stats = %+v, want Loaded 3 / Skipped 2 / Negatives 1", stats)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	if want := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC); !rows[0].MonthEnd.Equal(want) {
		t.Fatalf("mid-month corte normalized to %s, want %s", formatDate(rows[0].MonthEnd), formatDate(want))
	}
	if rows[1].Balance != 1500000 {
		t.Fatalf("separator balance = %d, want 1500000", rows[1].Balance)
	}
	if rows[2].ClientID != "C2" || rows[2].Balance != 0 {
		t.Fatalf("negative balance should clamp to 0, got %+v", rows[2])
	}
}

func TestLoadHistoriaThousandsNotation(t *testing.T) {
	csvData := "identificacion,corte_mes,saldo\n" +
		"C1,2024-01-31,300.000\n" +
		"C1,2024-02-29,950.000\n"

	path := writeTempCSV(t, "historia-*.csv", csvData)

	rows, stats, err := loadHistoria(path, discardLogger())
	if err != nil {
		t.Fatalf("loadHistoria: %v", err)
	}
	if stats.Loaded != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 loaded rows, got stats %+v", stats)
	}
	if rows[0].Balance != 300000 {
		t.Fatalf("saldo 300.000 parsed as %d, want 300000", rows[0].Balance)
	}
	if got := classifyBalance(rows[0].Balance); got != LevelN1 {
		t.Fatalf("saldo 300.000 classified as %s, want N1", got)
	}
	if rows[1].Balance != 950000 {
		t.Fatalf("saldo 950.000 parsed as %d, want 950000", rows[1].Balance)
	}
}

func TestLoadHistoriaMissingColumn(t *testing.T) {
	path := writeTempCSV(t, "historia-*.csv", "identificacion,saldo\nC1,100\n")
	if _, _, err := loadHistoria(path, discardLogger()); err == nil {
		t.Fatal("expected error for missing corte_mes column")
	}
}

func TestLoadRetirosLastWins(t *testing.T) {
	csvData := "identificacion,fecha_retiro\n" +
		"R1,2024-03-10\n" +
		"R2,\n" +
		"R1,2024-07-01\n" +
		",2024-01-01\n"

	path := writeTempCSV(t, "retiros-*.csv", csvData)

	records, skipped, err := loadRetiros(path, discardLogger())
	if err != nil {
		t.Fatalf("loadRetiros: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byID := map[string]WithdrawalRecord{}
	for _, record := range records {
		byID[record.ClientID] = record
	}
	if want := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC); !byID["R1"].WithdrawalDate.Equal(want) {
		t.Fatalf("R1 withdrawal = %s, want %s (last row wins)", formatDate(byID["R1"].WithdrawalDate), formatDate(want))
	}
	if !byID["R2"].WithdrawalDate.IsZero() {
		t.Fatalf("R2 should stay active, got %s", formatDate(byID["R2"].WithdrawalDate))
	}
}

func TestParseBalanceFormats(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"250000", 250000},
		{"1,250,000", 1250000},
		{"1.234.567", 1234567},
		{"950.000", 950000},
		{"300.000", 300000},
		{"250000.75", 250001},
		{"1.5", 2},
		{" 300000 ", 300000},
		{"-500", -500},
	}
	for _, tc := range cases {
		got, err := parseBalance(tc.in)
		if err != nil {
			t.Fatalf("parseBalance(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseBalance(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	for _, in := range []string{"", "abc", "12a3"} {
		if _, err := parseBalance(in); err == nil {
			t.Fatalf("parseBalance(%q) should fail", in)
		}
	}
}

func TestParseDateLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-12-15", time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC)},
		{"2024/01/31", time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)},
		{"15/07/2024", time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-06-30 00:00:00", time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseDate(tc.in)
		if err != nil {
			t.Fatalf("parseDate(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseDate(%q) = %s, want %s", tc.in, formatDate(got), formatDate(tc.want))
		}
	}

	if _, err := parseDate("not-a-date"); err == nil {
		t.Fatal("expected error for unsupported date format")
	}
}
