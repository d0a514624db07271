package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/document"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of workflow documents",
	Long: `Print the JSON Schema of workflow documents. Point your editor at it
to get completion for nodes, edges and handles.`,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

// documentSchema reflects the workflow document type.
func documentSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	s := r.Reflect(&document.Document{})
	s.Title = "nodeflow workflow"
	s.Description = "A graph of text, image, video, llm, crop and extract nodes."
	return s
}

func runSchema(cmd *cobra.Command, _ []string) error {
	data, err := json.MarshalIndent(documentSchema(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
