package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go-easm/models"
	"go-easm/orchestrator"
)

func newScanCmd(e *env) *cobra.Command {
	var (
		target   string
		template string
		name     string
		severity []string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one nuclei scan in the foreground and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			value, err := models.NormalizeTarget(target)
			if err != nil {
				return err
			}

			db, err := e.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			asset, err := db.EnsureAsset(ctx, value, value)
			if err != nil {
				return err
			}

			req := orchestrator.CreateScanRequest{AssetID: asset.ID, Name: name}
			if template != "" {
				tpl, err := db.GetTemplateByName(ctx, template)
				if err != nil {
					return err
				}
				req.TemplateID = &tpl.ID
			}
			for _, raw := range severity {
				req.Overrides.Severities = append(req.Overrides.Severities, models.Severity(raw))
			}

			svc := e.service(db, e.scanner())
			scan, err := svc.CreateScan(ctx, req)
			if err != nil {
				return err
			}
			if scan, err = svc.ExecuteScan(ctx, scan.ID); err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), scan); err != nil {
				return err
			}
			if scan.Status != models.ScanCompleted {
				return fmt.Errorf("scan %d finished as %s: %s", scan.ID, scan.Status, scan.ErrorMessage)
			}
			logrus.Infof("Scan %d completed with %d findings", scan.ID, scan.VulnerabilitiesFound)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Target to scan (URL or domain)")
	cmd.Flags().StringVar(&template, "template", "", "Name of the scan template to apply")
	cmd.Flags().StringVar(&name, "name", "", "Scan name")
	cmd.Flags().StringSliceVar(&severity, "severity", nil, "Severities to report, overrides the template")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
