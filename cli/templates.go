package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go-easm/config"
	"go-easm/models"
)

func newTemplatesCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage scan templates",
	}
	cmd.AddCommand(newTemplatesImportCmd(e))
	return cmd
}

func newTemplatesImportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import scan templates from a YAML file, or the built-in presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := readTemplates(args)
			if err != nil {
				return err
			}

			db, err := e.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			svc := e.service(db, nil)
			created := 0
			for i := range templates {
				tpl := &templates[i]
				_, err := db.GetTemplateByName(ctx, tpl.Name)
				if err == nil {
					logrus.Infof("Template %q already exists, skipping", tpl.Name)
					continue
				}
				if !errors.Is(err, models.ErrNotFound) {
					return err
				}

				if _, err := svc.CreateTemplate(ctx, tpl); err != nil {
					return fmt.Errorf("template %q: %w", tpl.Name, err)
				}
				created++
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", tpl.ID, tpl.Name)
			}

			logrus.Infof("Imported %d of %d templates", created, len(templates))
			return nil
		},
	}
}

func readTemplates(args []string) ([]models.ScanTemplate, error) {
	if len(args) == 0 {
		return config.DefaultTemplates()
	}

	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.LoadTemplates(f)
}
