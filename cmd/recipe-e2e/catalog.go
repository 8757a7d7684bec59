package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/recipe-e2e/internal/catalog"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenarios in the catalog",
	RunE:  listScenarios,
}

var listTagsFlag []string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check scenario documents against the schema and the locator set",
	Long: `Validate loads the built-in catalog, target.scenario_dir and every --dir,
checks each document against the scenario schema and resolves every element
target through the configured locator set. All problems are reported at once.`,
	RunE: validateCatalog,
}

var validateDirsFlag []string

func init() {
	listCmd.Flags().StringSliceVarP(&listTagsFlag, "tag", "t", nil, "Only list scenarios carrying one of these tags")
	validateCmd.Flags().StringSliceVarP(&validateDirsFlag, "dir", "d", nil, "Additional directory of scenario documents")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
}

func listScenarios(cmd *cobra.Command, args []string) error {
	cat, err := usableCatalog(app.cfg, app.logger)
	if err != nil {
		return err
	}
	selected, err := cat.Filter(nil, listTagsFlag)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTAGS\tSTEPS\tASSERTIONS")
	for _, sc := range selected {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", sc.ID, sc.Title, strings.Join(sc.Tags, ","), len(sc.Steps), len(sc.Assertions))
	}
	return tw.Flush()
}

func validateCatalog(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog(app.cfg, validateDirsFlag...)
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		for _, issue := range verr.Issues {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", issue)
		}
		return fmt.Errorf("%d problem(s) in scenario documents", len(verr.Issues))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d scenarios valid (locator set %s)\n", cat.Len(), locatorSetName())
	return nil
}

func locatorSetName() string {
	if app.cfg.Target.LocatorFile != "" {
		return app.cfg.Target.LocatorFile
	}
	return app.cfg.Target.LocatorSet
}
