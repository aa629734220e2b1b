package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type LoadStats struct {
	Loaded    int
	Skipped   int
	Negatives int
}

// loadHistoria reads the historia_saldos table from a CSV file. Rows with a
// blank id, an unparsable date or an unparsable balance are skipped and
// counted; negative balances are clamped to zero and counted. corte_mes is
// normalized to the last day of its month.
func loadHistoria(path string, log *logrus.Logger) ([]BalanceObservation, LoadStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("unable to read historia header: %w", err)
	}

	colMap := normalizeHeaders(headers)
	idIdx, ok := findColumn(colMap, []string{"identificacion", "id_cliente", "cliente", "client_id"})
	if !ok {
		return nil, LoadStats{}, errors.New("historia: missing identificacion column")
	}
	corteIdx, ok := findColumn(colMap, []string{"corte_mes", "corte", "mes", "fecha_corte"})
	if !ok {
		return nil, LoadStats{}, errors.New("historia: missing corte_mes column")
	}
	saldoIdx, ok := findColumn(colMap, []string{"saldo", "balance", "valor"})
	if !ok {
		return nil, LoadStats{}, errors.New("historia: missing saldo column")
	}

	var rows []BalanceObservation
	stats := LoadStats{}
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, stats, fmt.Errorf("unable to read historia: %w", err)
		}
		line++
		if len(record) == 0 {
			continue
		}

		clientID := getValue(record, idIdx)
		if clientID == "" {
			stats.Skipped++
			log.Warnf("historia fila %d: identificacion vacia, omitida", line)
			continue
		}

		corte, err := parseDate(getValue(record, corteIdx))
		if err != nil {
			stats.Skipped++
			log.Warnf("historia fila %d: corte_mes invalido (%v), omitida", line, err)
			continue
		}

		saldo, err := parseBalance(getValue(record, saldoIdx))
		if err != nil {
			stats.Skipped++
			log.Warnf("historia fila %d: saldo invalido (%v), omitida", line, err)
			continue
		}
		if saldo < 0 {
			stats.Negatives++
			saldo = 0
		}

		rows = append(rows, BalanceObservation{
			ClientID: clientID,
			MonthEnd: monthEnd(corte),
			Balance:  saldo,
		})
		stats.Loaded++
	}
	return rows, stats, nil
}

// loadRetiros reads the retiros table from a CSV file. An empty fecha_retiro
// means the client is still active. At most one record per client; when the
// input repeats a client, the last row wins.
func loadRetiros(path string, log *logrus.Logger) ([]WithdrawalRecord, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("unable to read retiros header: %w", err)
	}

	colMap := normalizeHeaders(headers)
	idIdx, ok := findColumn(colMap, []string{"identificacion", "id_cliente", "cliente", "client_id"})
	if !ok {
		return nil, 0, errors.New("retiros: missing identificacion column")
	}
	fechaIdx, ok := findColumn(colMap, []string{"fecha_retiro", "retiro", "fecha"})
	if !ok {
		return nil, 0, errors.New("retiros: missing fecha_retiro column")
	}

	byClient := map[string]time.Time{}
	var order []string
	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, skipped, fmt.Errorf("unable to read retiros: %w", err)
		}
		line++
		if len(record) == 0 {
			continue
		}

		clientID := getValue(record, idIdx)
		if clientID == "" {
			skipped++
			log.Warnf("retiros fila %d: identificacion vacia, omitida", line)
			continue
		}

		var fecha time.Time
		if raw := getValue(record, fechaIdx); raw != "" {
			parsed, err := parseDate(raw)
			if err != nil {
				skipped++
				log.Warnf("retiros fila %d: fecha_retiro invalida (%v), omitida", line, err)
				continue
			}
			fecha = parsed
		}

		if _, seen := byClient[clientID]; !seen {
			order = append(order, clientID)
		}
		byClient[clientID] = fecha
	}

	records := make([]WithdrawalRecord, 0, len(byClient))
	for _, clientID := range order {
		records = append(records, WithdrawalRecord{ClientID: clientID, WithdrawalDate: byClient[clientID]})
	}
	return records, skipped, nil
}

// parseBalance accepts integer and decimal balances with optional thousands
// separators and rounds to whole pesos. Dot-separated digit groups are read
// as thousands notation: multiple dots always, a single dot only when it is
// followed by exactly three digits ("950.000" is 950000). Other fractions
// ("250000.75") stay decimal and are rounded.
func parseBalance(value string) (int64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), " ", "")
	if cleaned == "" {
		return 0, errors.New("empty balance")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	switch dots := strings.Count(cleaned, "."); {
	case dots > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	case dots == 1:
		if idx := strings.Index(cleaned, "."); len(cleaned)-idx-1 == 3 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}
	parsed, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("unsupported balance format: %s", value)
	}
	return parsed.Round(0).IntPart(), nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	layouts := []string{
		"2006-01-02",
		"2006/01/02",
		"02/01/2006",
		"01/02/2006",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return dateOnly(parsed), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %s", value)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format("2006-01-02")
}

func dateOnly(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeHeaders(headers []string) map[string]int {
	result := make(map[string]int, len(headers))
	for idx, header := range headers {
		normalized := normalizeHeader(header)
		if _, exists := result[normalized]; !exists {
			result[normalized] = idx
		}
	}
	return result
}

func normalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

func findColumn(headers map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if idx, ok := headers[normalizeHeader(name)]; ok {
			return idx, true
		}
	}
	return -1, false
}

func getValue(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
