package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

func ingestCmd() *cobra.Command {
	var tenantID, source string

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add documents to a tenant's knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(tenantID) == "" {
				return fmt.Errorf("--tenant is required")
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := openStore(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			total := 0
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				src := source
				if src == "" {
					src = filepath.Base(path)
				}
				n, err := a.uc.Knowledge.Ingest(cmd.Context(), &domain.KnowledgeDocument{
					TenantID:  tenantID,
					Source:    src,
					Content:   string(content),
					CreatedAt: time.Now(),
				})
				if err != nil {
					return err
				}
				log.Info().Str("tenant", tenantID).Str("source", src).Int("fragments", n).Msg("document ingested")
				total += n
			}

			count, err := a.uc.Knowledge.Count(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			fmt.Printf("Ingested %d fragments, %s now has %d\n", total, tenantID, count)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id")
	cmd.Flags().StringVar(&source, "source", "", "source label (default: file name)")
	return cmd
}
