package excel

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
)

// Dataset is a design matrix with named columns plus the response vector.
// The response column is the one headed "y" (case-insensitive), or the last
// column when none is so named.
type Dataset struct {
	X        *mat.Dense
	Y        []float64
	Columns  []string
	Response string
}

// DataReader loads regression datasets from Excel or CSV files.
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
}

// NewDataReader creates a reader that handles both Excel and CSV files.
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType}
}

// ReadDataset reads the file into a design matrix and response.
func (r *DataReader) ReadDataset() (*Dataset, error) {
	log.Printf("[DataReader] Reading %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
	if err != nil {
		return nil, err
	}
	return buildDataset(rows)
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1: %w", err)
	}
	log.Printf("[DataReader] Excel read in %.2fms, %d rows", float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *DataReader) readCSVRows() ([][]string, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return rows, nil
}

func buildDataset(rows [][]string) (*Dataset, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("dataset needs a header row and at least one data row, got %d rows", len(rows))
	}
	header := rows[0]
	if len(header) < 2 {
		return nil, fmt.Errorf("dataset needs at least one predictor and a response column")
	}

	respCol := len(header) - 1
	for j, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "y") {
			respCol = j
			break
		}
	}

	n := len(rows) - 1
	p := len(header) - 1
	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	columns := make([]string, 0, p)
	for j, name := range header {
		if j != respCol {
			columns = append(columns, strings.TrimSpace(name))
		}
	}

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(header))
		}
		col := 0
		for j, cell := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, header[j], err)
			}
			if j == respCol {
				y[i-1] = v
			} else {
				x.Set(i-1, col, v)
				col++
			}
		}
	}

	log.Printf("[DataReader] Loaded dataset: n=%d p=%d response=%q", n, p, header[respCol])
	return &Dataset{X: x, Y: y, Columns: columns, Response: strings.TrimSpace(header[respCol])}, nil
}
