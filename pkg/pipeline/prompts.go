package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/tidemarklabs/tidemark/pkg/warehouse"
)

// The agent is asked for a trivial acknowledgment per entry; the batch rides
// along as indented JSON.
const promptPreamble = "You are a data-processing agent. You will receive a batch of new database entries in JSON format. For each entry, simply respond with \"Hi\".  Here are the entries:\n\n"

// BuildPrompt renders the agent prompt for a batch of records.
func BuildPrompt(records []warehouse.Record) (string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	return promptPreamble + string(data), nil
}
