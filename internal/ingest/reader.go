// Package ingest reads RawRecord payloads handed over by the retrieval
// collaborator. The engine never fetches from source APIs itself; it consumes
// files the collaborator has already landed.
package ingest

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mandiflow/mandiflow/internal/model"
)

// Options override fields the input file may omit.
type Options struct {
	// Source labels every record when the file has no source column.
	Source string
	// Partition labels the batch; defaults to the input file's base name.
	Partition string
	// IngestedAt stamps records lacking their own ingestion timestamp.
	IngestedAt time.Time
}

// ReadFile parses a CSV or JSON-lines file into raw records, dispatching on
// extension.
func ReadFile(path string, opts Options) ([]model.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	if opts.Partition == "" {
		opts.Partition = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f, opts)
	case ".json", ".jsonl", ".ndjson":
		return ReadJSONL(f, opts)
	default:
		return nil, eris.Errorf("ingest: unsupported input format %s", filepath.Ext(path))
	}
}

// csvColumns maps recognized header names onto RawRecord fields.
var csvColumns = map[string]string{
	"source":       "source",
	"market":       "market",
	"market_name":  "market",
	"commodity":    "commodity",
	"variety":      "variety",
	"state":        "state",
	"date":         "date",
	"price_date":   "date",
	"arrival_date": "date",
	"min_price":    "min_price",
	"max_price":    "max_price",
	"modal_price":  "modal_price",
	"unit":         "unit",
	"price_unit":   "unit",
	"ingested_at":  "ingested_at",
}

// ReadCSV parses header-mapped CSV rows. Unknown columns are ignored, rows
// shorter than the header fill only the fields they carry, and rows the csv
// reader cannot parse at all are skipped with a logged count instead of
// failing the file. A record missing required fields still quarantines
// downstream.
func ReadCSV(r io.Reader, opts Options) ([]model.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	fields := make([]string, len(header))
	for i, name := range header {
		fields[i] = csvColumns[strings.ToLower(strings.TrimSpace(name))]
	}

	var records []model.RawRecord
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			skipped++
			zap.L().Warn("ingest: skipping malformed csv row",
				zap.Int("line", parseErr.Line),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read csv row")
		}

		rec := model.RawRecord{
			Source:     opts.Source,
			Partition:  opts.Partition,
			IngestedAt: opts.IngestedAt,
		}
		for i, value := range row {
			if i >= len(fields) {
				break
			}
			setField(&rec, fields[i], strings.TrimSpace(value))
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		zap.L().Warn("ingest: malformed csv rows dropped",
			zap.Int("rows", skipped),
			zap.String("partition", opts.Partition),
		)
	}
	return records, nil
}

// ReadJSONL parses one JSON object per line, in RawRecord shape.
func ReadJSONL(r io.Reader, opts Options) ([]model.RawRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []model.RawRecord
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec model.RawRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, eris.Wrapf(err, "ingest: parse json line %d", line)
		}
		if rec.Source == "" {
			rec.Source = opts.Source
		}
		if rec.Partition == "" {
			rec.Partition = opts.Partition
		}
		if rec.IngestedAt.IsZero() {
			rec.IngestedAt = opts.IngestedAt
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "ingest: scan json lines")
	}
	return records, nil
}

func setField(rec *model.RawRecord, field, value string) {
	switch field {
	case "source":
		rec.Source = value
	case "market":
		rec.Market = value
	case "commodity":
		rec.Commodity = value
	case "variety":
		rec.Variety = value
	case "state":
		rec.State = value
	case "date":
		rec.Date = value
	case "min_price":
		rec.MinPrice = value
	case "max_price":
		rec.MaxPrice = value
	case "modal_price":
		rec.ModalPrice = value
	case "unit":
		rec.Unit = value
	case "ingested_at":
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			rec.IngestedAt = t
		}
	}
}
