package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fleetwire/fleetrelay/internal/message"
	"github.com/fleetwire/fleetrelay/internal/relay"
	"github.com/fleetwire/fleetrelay/internal/store"
)

var (
	templateEventType string
	templateLanguage  string
	templateKind      string
	templateHeader    string
	templateBody      string
	templateFooter    string
	templateCategory  string
	templatePriority  int
	templateInactive  bool
	templateDataJSON  string
	templatePurge     bool

	variableDataPath string
	variableDefault  string
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all templates",
	RunE:  runTemplateList,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new template",
	RunE:  runTemplateCreate,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Deactivate a template (use --purge to remove it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render a template against a sample event payload",
	RunE:  runTemplatePreview,
}

var templateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the reference template set",
	RunE:  runTemplateSeed,
}

var variableCmd = &cobra.Command{
	Use:   "variable",
	Short: "Template variable commands",
}

var variableListCmd = &cobra.Command{
	Use:   "list <event-type>",
	Short: "List variable declarations for an event type",
	Args:  cobra.ExactArgs(1),
	RunE:  runVariableList,
}

var variableSetCmd = &cobra.Command{
	Use:   "set <event-type> <name>",
	Short: "Create or update a variable declaration",
	Args:  cobra.ExactArgs(2),
	RunE:  runVariableSet,
}

var variableDeleteCmd = &cobra.Command{
	Use:   "delete <event-type> <name>",
	Short: "Delete a variable declaration",
	Args:  cobra.ExactArgs(2),
	RunE:  runVariableDelete,
}

func init() {
	templateListCmd.Flags().StringVar(&templateEventType, "event-type", "", "Filter by event type")

	templateCreateCmd.Flags().StringVar(&templateEventType, "event-type", "", "Event type (required)")
	templateCreateCmd.Flags().StringVar(&templateLanguage, "language", "ENG", "ISO 639-3 language code")
	templateCreateCmd.Flags().StringVar(&templateKind, "kind", "text", "Template kind: text, templated or interactive")
	templateCreateCmd.Flags().StringVar(&templateHeader, "header", "", "Header text")
	templateCreateCmd.Flags().StringVar(&templateBody, "body", "", "Body text (required)")
	templateCreateCmd.Flags().StringVar(&templateFooter, "footer", "", "Footer text")
	templateCreateCmd.Flags().StringVar(&templateCategory, "category", "", "Category")
	templateCreateCmd.Flags().IntVar(&templatePriority, "priority", 1, "Selection priority (lower wins)")
	templateCreateCmd.Flags().BoolVar(&templateInactive, "inactive", false, "Create the template deactivated")

	templateDeleteCmd.Flags().BoolVar(&templatePurge, "purge", false, "Remove the record instead of deactivating it")

	templatePreviewCmd.Flags().StringVar(&templateEventType, "event-type", "", "Event type (required)")
	templatePreviewCmd.Flags().StringVar(&templateLanguage, "language", "", "Language code (defaults to the configured default)")
	templatePreviewCmd.Flags().StringVar(&templateDataJSON, "data", "{}", "Event payload as JSON")

	variableSetCmd.Flags().StringVar(&variableDataPath, "path", "", "Dotted data path, e.g. data.route.name (required)")
	variableSetCmd.Flags().StringVar(&variableDefault, "default", "", "Default value when the path is missing")

	templateCmd.AddCommand(templateListCmd, templateShowCmd, templateCreateCmd,
		templateDeleteCmd, templatePreviewCmd, templateSeedCmd)
	variableCmd.AddCommand(variableListCmd, variableSetCmd, variableDeleteCmd)
	rootCmd.AddCommand(templateCmd, variableCmd)
}

// getStores opens the template store on the shared bolt database. The
// returned cleanup must be called before the process exits.
func getStores() (store.Store, string, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}

	storage, err := relay.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open storage: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.NewBolt(storage.DB(), cfg.Templates.DefaultLanguage, logger)
	if err != nil {
		storage.Close()
		return nil, "", nil, fmt.Errorf("failed to open template store: %w", err)
	}

	return st, cfg.Templates.DefaultLanguage, func() { storage.Close() }, nil
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	templates, err := st.ListTemplates(context.Background(), templateEventType)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT TYPE\tLANG\tKIND\tPRIORITY\tACTIVE\tBUTTONS")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\t%d\n",
			t.ID, t.EventType, t.LanguageCode, t.Kind, t.Priority, t.IsActive, len(t.Responses))
	}
	return w.Flush()
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl, err := st.GetTemplateByID(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}

	fmt.Printf("ID:         %s\n", tmpl.ID)
	fmt.Printf("Event type: %s\n", tmpl.EventType)
	fmt.Printf("Language:   %s\n", tmpl.LanguageCode)
	fmt.Printf("Kind:       %s\n", tmpl.Kind)
	fmt.Printf("Priority:   %d\n", tmpl.Priority)
	fmt.Printf("Active:     %t\n", tmpl.IsActive)
	if tmpl.Category != "" {
		fmt.Printf("Category:   %s\n", tmpl.Category)
	}
	fmt.Printf("Created:    %s\n", tmpl.CreatedAt.Format("2006-01-02 15:04:05"))
	if tmpl.Header != "" {
		fmt.Printf("\nHeader:\n%s\n", tmpl.Header)
	}
	fmt.Printf("\nBody:\n%s\n", tmpl.Body)
	if tmpl.Footer != "" {
		fmt.Printf("\nFooter:\n%s\n", tmpl.Footer)
	}
	if len(tmpl.Responses) > 0 {
		fmt.Println("\nButtons:")
		for _, opt := range tmpl.Responses {
			line := fmt.Sprintf("  [%d] %s -> %s (%s)", opt.SortOrder, opt.ButtonText, opt.ButtonPayload, opt.ButtonType)
			if len(opt.DisplayConditions) > 0 {
				conds := make([]string, 0, len(opt.DisplayConditions))
				for path, expected := range opt.DisplayConditions {
					conds = append(conds, path+"="+expected)
				}
				line += " when " + strings.Join(conds, ", ")
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runTemplateCreate(cmd *cobra.Command, args []string) error {
	if templateEventType == "" {
		return fmt.Errorf("--event-type is required")
	}
	if templateBody == "" {
		return fmt.Errorf("--body is required")
	}

	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	tmpl := &message.Template{
		EventType:    templateEventType,
		LanguageCode: strings.ToUpper(templateLanguage),
		Kind:         message.TemplateKind(templateKind),
		Header:       templateHeader,
		Body:         templateBody,
		Footer:       templateFooter,
		Category:     templateCategory,
		Priority:     templatePriority,
		IsActive:     !templateInactive,
	}

	if err := st.CreateTemplate(context.Background(), tmpl); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	fmt.Printf("Template created: %s\n", tmpl.ID)
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	if templatePurge {
		if err := st.DeleteTemplate(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		fmt.Println("Template deleted")
		return nil
	}

	if err := st.DeactivateTemplate(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to deactivate template: %w", err)
	}
	fmt.Println("Template deactivated")
	return nil
}

func runTemplatePreview(cmd *cobra.Command, args []string) error {
	if templateEventType == "" {
		return fmt.Errorf("--event-type is required")
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(templateDataJSON), &data); err != nil {
		return fmt.Errorf("invalid --data JSON: %w", err)
	}

	st, defaultLang, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	lang := templateLanguage
	if lang == "" {
		lang = defaultLang
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	compiler := message.NewCompiler(st, logger)

	event := message.Event{EventType: templateEventType, Data: data}
	rendered, err := compiler.Compile(context.Background(), event, strings.ToUpper(lang))
	if err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if rendered.Header != "" {
		fmt.Printf("Header: %s\n", rendered.Header)
	}
	fmt.Printf("Body:   %s\n", rendered.Body)
	if rendered.Footer != "" {
		fmt.Printf("Footer: %s\n", rendered.Footer)
	}
	for _, btn := range rendered.Buttons {
		fmt.Printf("Button: %s -> %s\n", btn.Text, btn.Payload)
	}
	return nil
}

func runTemplateSeed(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Seed(context.Background(), st); err != nil {
		return fmt.Errorf("failed to seed templates: %w", err)
	}

	fmt.Println("Reference templates loaded")
	return nil
}

func runVariableList(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	vars, err := st.GetVariables(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list variables: %w", err)
	}

	if len(vars) == 0 {
		fmt.Println("No variables declared")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tDATA PATH\tDEFAULT")
	for _, v := range vars {
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.VariableName, v.DataPath, v.DefaultValue)
	}
	return w.Flush()
}

func runVariableSet(cmd *cobra.Command, args []string) error {
	if variableDataPath == "" {
		return fmt.Errorf("--path is required")
	}

	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	v := &message.TemplateVariable{
		EventType:    args[0],
		VariableName: message.PlaceholderToken(args[1]),
		DataPath:     variableDataPath,
		DefaultValue: variableDefault,
	}
	if err := st.PutVariable(context.Background(), v); err != nil {
		return fmt.Errorf("failed to store variable: %w", err)
	}

	fmt.Printf("Variable %s set for %s\n", v.VariableName, v.EventType)
	return nil
}

func runVariableDelete(cmd *cobra.Command, args []string) error {
	st, _, cleanup, err := getStores()
	if err != nil {
		return err
	}
	defer cleanup()

	name := message.PlaceholderToken(args[1])
	if err := st.DeleteVariable(context.Background(), args[0], name); err != nil {
		return fmt.Errorf("failed to delete variable: %w", err)
	}

	fmt.Println("Variable deleted")
	return nil
}
