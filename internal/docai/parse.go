package docai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invoiceflow/pipeline/constants"
	"github.com/invoiceflow/pipeline/internal/extract"
)

// analyzeResponse is the wire shape of the analyze endpoint. It stays
// private to this package; only RawExtraction leaves the boundary.
type analyzeResponse struct {
	Status  string `json:"status"`
	Content string `json:"content"`
	Words   []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"` // 0..1 on the wire
	} `json:"words"`
	KeyValuePairs []struct {
		Key        string  `json:"key"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"` // 0..1 on the wire
	} `json:"key_value_pairs"`
	Tables []struct {
		Cells []struct {
			RowIndex    int    `json:"row_index"`
			ColumnIndex int    `json:"column_index"`
			Content     string `json:"content"`
		} `json:"cells"`
	} `json:"tables"`
}

func parseAnalyzeResponse(kind constants.AdapterKind, raw []byte) (extract.RawExtraction, error) {
	var resp analyzeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return extract.RawExtraction{}, fmt.Errorf("unmarshal analyze response: %w", err)
	}
	if resp.Status != "" && resp.Status != "succeeded" {
		return extract.RawExtraction{}, fmt.Errorf("analyze status %q", resp.Status)
	}

	scores := make([]float64, 0, len(resp.Words))
	for _, w := range resp.Words {
		scores = append(scores, w.Confidence*100)
	}

	fields := make([]extract.FormField, 0, len(resp.KeyValuePairs))
	for _, kv := range resp.KeyValuePairs {
		fields = append(fields, extract.FormField{
			Key:        kv.Key,
			Value:      kv.Value,
			Confidence: kv.Confidence * 100,
		})
	}

	tables := make([]extract.Table, 0, len(resp.Tables))
	for _, t := range resp.Tables {
		tables = append(tables, buildTable(t.Cells))
	}

	return extract.RawExtraction{
		Source:     kind,
		Text:       resp.Content,
		Confidence: extract.MeanConfidence(scores),
		FormFields: fields,
		Tables:     tables,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// buildTable turns sparse (row, column, content) cells into ordered
// rows. Gaps become empty strings; counts are derived from the rows.
func buildTable(cells []struct {
	RowIndex    int    `json:"row_index"`
	ColumnIndex int    `json:"column_index"`
	Content     string `json:"content"`
}) extract.Table {
	maxRow, maxCol := -1, -1
	for _, c := range cells {
		if c.RowIndex > maxRow {
			maxRow = c.RowIndex
		}
		if c.ColumnIndex > maxCol {
			maxCol = c.ColumnIndex
		}
	}
	if maxRow < 0 || maxCol < 0 {
		return extract.Table{}
	}
	rows := make([][]string, maxRow+1)
	for i := range rows {
		rows[i] = make([]string, maxCol+1)
	}
	for _, c := range cells {
		if c.RowIndex >= 0 && c.ColumnIndex >= 0 {
			rows[c.RowIndex][c.ColumnIndex] = c.Content
		}
	}
	return extract.Table{Rows: rows}
}
