package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"flight-replay/internal/logger"
	"flight-replay/internal/models"
)

// ErrNoHeader 输入为空或缺少列头
var ErrNoHeader = errors.New("ingest: missing header row")

// ReadCSV 读取遥测 CSV，列头 (去空白、小写) 作为字段键
// 短行补空值，多余的列被忽略
func ReadCSV(r io.Reader) ([]models.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}

	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	var records []models.RawRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		rec := make(models.RawRecord, len(keys))
		for i, k := range keys {
			if k == "" {
				continue
			}
			if i < len(row) {
				rec[k] = row[i]
			} else {
				rec[k] = ""
			}
		}
		records = append(records, rec)
	}

	return records, nil
}

// LoadFile 读取 CSV 文件
func LoadFile(path string) ([]models.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.LogInfo("[INGEST] CSV 已读取", "path", path, "rows", len(records))
	return records, nil
}
