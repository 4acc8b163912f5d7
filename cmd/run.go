package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

func newRunCmd() *cobra.Command {
	var sitemapURL string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Audits one sitemap in the foreground and prints the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuditCommand(cmd, sitemapURL)
		},
	}
	cmd.Flags().StringVar(&sitemapURL, "sitemap", "", "absolute URL of the sitemap to audit")
	return cmd
}

func runAuditCommand(cmd *cobra.Command, sitemapURL string) error {
	if sitemapURL == "" {
		return errors.New("--sitemap is required")
	}
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	jobID, err := a.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate audit id: %w", err)
	}
	now := a.Clock.Now()
	if err := a.Store.CreateJob(ctx, audit.Job{
		ID:         jobID,
		SitemapURL: sitemapURL,
		Status:     audit.StatusPending,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("create audit: %w", err)
	}

	summary, runErr := a.Pipeline.Run(ctx, audit.RunRequest{JobID: jobID, SitemapURL: sitemapURL, Submitted: now})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		AuditID string        `json:"audit_id"`
		Summary audit.Summary `json:"summary"`
	}{jobID, summary}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("audit %s: %w", jobID, runErr)
	}
	if summary.Status == audit.StatusFailed {
		return fmt.Errorf("audit %s failed", jobID)
	}
	return nil
}
