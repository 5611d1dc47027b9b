package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"legal-rag/internal/orchestrator"
)

var (
	responseType string
	searchK      int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest one or more documents",
	Long: `Extracts the text of each file, classifies it, extracts parties and issues
and stores its chunks in the index. Supported formats: pdf, docx, pptx,
xlsx, ods, txt and md.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		sources := make([]orchestrator.Source, len(args))
		for i, path := range args {
			sources[i] = orchestrator.Source{Path: path}
		}
		results := p.BatchIngest(cmd.Context(), sources)
		if err := printJSON(cmd, results); err != nil {
			return err
		}
		for _, r := range results {
			if !r.Success {
				return errors.New("one or more documents failed to ingest")
			}
		}
		return nil
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond [document-id]",
	Short: "Draft a response to an ingested document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		resp, found, err := p.Respond(cmd.Context(), args[0], responseType)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("document %s not found", args[0])
		}
		return printJSON(cmd, resp)
	},
}

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Ingest a document and draft a response to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		res, resp, err := p.ProcessAndRespond(cmd.Context(), args[0], responseType)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"document": res.Document,
			"response": resp,
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		matches, err := p.Search(cmd.Context(), args[0], searchK)
		if err != nil {
			return err
		}
		return printJSON(cmd, matches)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Remove a document from the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		if err := p.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := p.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup [path]",
	Short: "Export the index collection to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		if err := p.Backup(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Exported collection to %s\n", args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [path]",
	Short: "Replace the index collection with a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPipeline(cmd.Context())
		if err != nil {
			return err
		}
		if err := p.Restore(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Restored collection from %s\n", args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		cmd.Print(out)
		return nil
	},
}

func init() {
	respondCmd.Flags().StringVarP(&responseType, "type", "t", "", "response type, defaults to rag.response_type")
	processCmd.Flags().StringVarP(&responseType, "type", "t", "", "response type, defaults to rag.response_type")
	searchCmd.Flags().IntVarP(&searchK, "limit", "k", 5, "maximum number of chunks to match")

	rootCmd.AddCommand(ingestCmd, respondCmd, processCmd, searchCmd, deleteCmd,
		statsCmd, backupCmd, restoreCmd, configCmd)
}
