package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

const maxLineBytes = 1 << 20

// ReadJSONLines decodes one TransactionInput per non-blank line
func ReadJSONLines(r io.Reader) ([]models.TransactionInput, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var txs []models.TransactionInput
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var tx models.TransactionInput
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		txs = append(txs, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}
	return txs, nil
}
