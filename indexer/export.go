package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Height     int64  `parquet:"name=height, type=INT64"`
	Seq        int64  `parquet:"name=seq, type=INT64"`
	Module     string `parquet:"name=module, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	IndexedAt  string `parquet:"name=indexed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every event matching filter to a snappy-compressed
// parquet file at path, ignoring filter.Limit. It returns the row count.
func (i *Indexer) ExportParquet(ctx context.Context, path string, filter Filter) (int, error) {
	records, err := i.find(ctx, filter, 0)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			Height:     int64(rec.Height),
			Seq:        int64(rec.Seq),
			Module:     rec.Module,
			Type:       rec.Type,
			Attributes: rec.Attributes,
			IndexedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			file.Close()
			return 0, fmt.Errorf("indexer: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: finalize parquet: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, err
	}
	return len(records), nil
}
