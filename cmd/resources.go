package cmd

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/controller"
	"github.com/bmr-systems/bmr-admin/internal/repository"
	"github.com/bmr-systems/bmr-admin/internal/resources"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

// resourceCmds holds one command per module, keyed by module name.
// Module specific files add their extra subcommands to these.
var resourceCmds = buildResourceCommands()

func buildResourceCommands() map[string]*cobra.Command {
	cmds := make(map[string]*cobra.Command)
	for _, m := range resources.All() {
		cmds[m.Name] = newResourceCmd(m)
	}
	return cmds
}

func newResourceCmd(m resources.Module) *cobra.Command {
	c := &cobra.Command{
		Use:   m.Name,
		Short: "Manage " + strings.ToLower(m.Title),
		Long:  fmt.Sprintf("List, inspect and change %s (%s)", strings.ToLower(m.Title), m.Path),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List " + strings.ToLower(m.Title),
		Args:  cobra.NoArgs,
		RunE:  withSession(true, func(cmd *cobra.Command, args []string, s *session) error { return runList(cmd, m, s) }),
	}
	list.Flags().Int("page", 1, "page number")
	list.Flags().Int("per-page", 0, fmt.Sprintf("page size, at most %d (default from config)", controller.MaxPerPage))
	list.Flags().String("search", "", "search text")
	list.Flags().String("ordering", "", "ordering field, prefix with - for descending")
	list.Flags().StringArray("filter", nil, "filter as key=value (repeatable)")
	list.Flags().Bool("save-filters", false, "remember these filters for the next list")
	list.Flags().Bool("reset-filters", false, "forget saved filters")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, err := m.Records(s.api, repository.WithLogger(s.logger)).Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printRecord(s.format, *rec)
		}),
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a record",
		Args:  cobra.NoArgs,
		RunE:  withSession(true, func(cmd *cobra.Command, args []string, s *session) error { return runSubmit(cmd, m, s, 0) }),
	}
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runSubmit(cmd, m, s, id)
		}),
	}
	for _, fc := range []*cobra.Command{create, update} {
		fc.Flags().StringArray("set", nil, "field value as key=value (repeatable)")
		fc.Flags().StringArray("file", nil, "file field as key=path (repeatable)")
		fc.Flags().StringArray("rich-text", nil, "rich text field as key=content or key=@path (repeatable)")
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			return runMutation(cmd, m, s, args[0], func(lc *controller.ListController[resources.Record], id int, title string) bool {
				return lc.Delete(cmd.Context(), id, title)
			})
		}),
	}

	count := &cobra.Command{
		Use:   "count",
		Short: "Count records matching the filters",
		Args:  cobra.NoArgs,
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			filters, err := filterFlags(cmd)
			if err != nil {
				return err
			}
			n := m.Records(s.api, repository.WithLogger(s.logger)).TotalCount(cmd.Context(), filters)
			if done, err := output.Structured(s.format, map[string]int{"count": n}); done {
				return err
			}
			fmt.Fprintln(output.Out, n)
			return nil
		}),
	}
	count.Flags().String("search", "", "search text")
	count.Flags().StringArray("filter", nil, "filter as key=value (repeatable)")

	exists := &cobra.Command{
		Use:   "exists <id>",
		Short: "Check whether a record exists",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ok, err := m.Records(s.api, repository.WithLogger(s.logger)).Exists(cmd.Context(), id)
			if err != nil {
				return err
			}
			if done, err := output.Structured(s.format, map[string]bool{"exists": ok}); done {
				return err
			}
			if !ok {
				output.Info("%s %d does not exist", singular(m), id)
				return errShown
			}
			output.Success("%s %d exists", singular(m), id)
			return nil
		}),
	}

	c.AddCommand(list, get, create, update, del, count, exists)

	if m.Activatable {
		c.AddCommand(toggleCmd(m, "activate", true), toggleCmd(m, "deactivate", false))
	}
	if m.Publishable {
		c.AddCommand(publishCmd(m, "publish", true), publishCmd(m, "unpublish", false))
	}
	if m.Bulk {
		c.AddCommand(bulkCmd(m))
	}
	for _, sub := range c.Commands() {
		switch sub.Name() {
		case "delete", "activate", "deactivate", "publish", "unpublish", "bulk":
			sub.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
		}
	}
	return c
}

func toggleCmd(m resources.Module, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			return runMutation(cmd, m, s, args[0], func(lc *controller.ListController[resources.Record], id int, title string) bool {
				return lc.ToggleStatus(cmd.Context(), id, title, active)
			})
		}),
	}
}

func publishCmd(m resources.Module, verb string, published bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a record",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			return runMutation(cmd, m, s, args[0], func(lc *controller.ListController[resources.Record], id int, title string) bool {
				return lc.TogglePublish(cmd.Context(), id, title, published)
			})
		}),
	}
}

func bulkCmd(m resources.Module) *cobra.Command {
	return &cobra.Command{
		Use:       "bulk <" + strings.Join(m.BulkOps(), "|") + "> <id>...",
		Short:     "Apply an operation to several records",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: m.BulkOps(),
		RunE: withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			op := args[0]
			ids := make([]int, 0, len(args)-1)
			for _, a := range args[1:] {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if !confirmer(cmd).Confirm(cmd.Context(), fmt.Sprintf("Apply %s to %d %s?", op, len(ids), strings.ToLower(m.Title))) {
				return nil
			}
			res, err := s.catalog.Bulk(cmd.Context(), m.Name, op, ids)
			if err != nil {
				return err
			}
			if done, err := output.Structured(s.format, res); done {
				return err
			}
			output.Success("%s applied to %d %s", op, len(ids), strings.ToLower(m.Title))
			return nil
		}),
	}
}

func runList(cmd *cobra.Command, m resources.Module, s *session) error {
	ctx := cmd.Context()
	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	ordering, _ := cmd.Flags().GetString("ordering")
	save, _ := cmd.Flags().GetBool("save-filters")
	reset, _ := cmd.Flags().GetBool("reset-filters")
	if perPage == 0 {
		perPage = cfg.List.PerPage
	}

	explicit, err := filterFlags(cmd)
	if err != nil {
		return err
	}
	if ordering != "" {
		explicit["ordering"] = ordering
	}

	opts := []controller.ListOption[resources.Record]{
		controller.WithNotifier[resources.Record](notifier{}),
		controller.WithListLogger[resources.Record](s.logger),
		controller.WithPerPage[resources.Record](perPage),
		controller.WithItemType[resources.Record](strings.ToLower(m.Title)),
	}
	if len(explicit) > 0 {
		defaults := map[string]any{"search": "", "ordering": controller.DefaultOrdering}
		maps.Copy(defaults, explicit)
		opts = append(opts, controller.WithDefaultFilters[resources.Record](defaults))
	}
	if len(explicit) == 0 || save || reset {
		opts = append(opts, controller.WithFilterPrefs[resources.Record](s.store))
	}

	repo := m.Records(s.api, repository.WithLogger(s.logger))
	lc := controller.NewList[resources.Record](m.Name, repo, recordView{module: m, format: s.format}, opts...)
	defer lc.Dispose()

	switch {
	case reset || save:
		lc.SaveFilters(ctx)
	default:
		lc.RestoreFilters(ctx)
	}
	lc.Load(ctx, page)

	st := lc.State()
	if st.Err != nil {
		return errShown
	}
	_, err = output.Structured(s.format, repository.ListResult[resources.Record]{Items: st.Items, Pagination: st.Pagination})
	return err
}

// runMutation resolves the record title, then lets the list controller
// confirm, apply and report the change.
func runMutation(cmd *cobra.Command, m resources.Module, s *session, arg string,
	apply func(lc *controller.ListController[resources.Record], id int, title string) bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	repo := m.Records(s.api, repository.WithLogger(s.logger))
	rec, err := repo.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	title := rec.String(m.TitleField)
	if title == "" {
		title = fmt.Sprintf("%s %d", singular(m), id)
	}

	lc := controller.NewList[resources.Record](m.Name, repo, recordView{module: m, format: s.format, quiet: true},
		controller.WithNotifier[resources.Record](notifier{}),
		controller.WithConfirmer[resources.Record](confirmer(cmd)),
		controller.WithListLogger[resources.Record](s.logger),
		controller.WithItemType[resources.Record](strings.ToLower(m.Title)),
	)
	defer lc.Dispose()
	if !apply(lc, id, title) {
		return errShown
	}
	return nil
}

func runSubmit(cmd *cobra.Command, m resources.Module, s *session, id int) error {
	form, closeFiles, err := formFlags(cmd)
	if err != nil {
		return err
	}
	defer closeFiles()
	if id == 0 && m.TitleField != "" {
		form.Rule(m.TitleField, titleRule(m))
	}

	repo := m.Records(s.api, repository.WithLogger(s.logger))
	fc := controller.NewFormController[resources.Record](singular(m), repo, formView{},
		controller.WithFormNotifier[resources.Record](notifier{}),
		controller.WithFormLogger[resources.Record](s.logger),
	)
	if id > 0 {
		fc.Bind(id)
	}
	rec, err := fc.Submit(cmd.Context(), form)
	if err != nil {
		return errShown
	}
	if s.format == output.FormatTable {
		output.Info("ID %d", rec.ID())
		return nil
	}
	return printRecord(s.format, *rec)
}

func titleRule(m resources.Module) string {
	switch m.TitleField {
	case "title":
		return "required,title,max=255"
	case "email":
		return "required,email"
	case "name":
		return "required,min=2,max=150"
	}
	return "required"
}

func confirmer(cmd *cobra.Command) controller.Confirmer {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return controller.AlwaysConfirm
	}
	return newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
}

func singular(m resources.Module) string {
	return controller.Singular(m.Title)
}

func printRecord(format output.Format, rec resources.Record) error {
	if done, err := output.Structured(format, rec); done {
		return err
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, rec.String(k)})
	}
	output.Fields(pairs)
	return nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func splitPair(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", kv)
	}
	return strings.TrimSpace(k), v, nil
}

// filterFlags collects --search and --filter into a filter map.
func filterFlags(cmd *cobra.Command) (map[string]any, error) {
	filters := make(map[string]any)
	if search, _ := cmd.Flags().GetString("search"); search != "" {
		filters["search"] = search
	}
	pairs, _ := cmd.Flags().GetStringArray("filter")
	for _, kv := range pairs {
		k, v, err := splitPair(kv)
		if err != nil {
			return nil, err
		}
		filters[k] = flagValue(v)
	}
	return filters, nil
}

// formFlags builds a form from --set, --file and --rich-text.
var openFile = func(name string) (io.ReadCloser, error) { return os.Open(name) }

// formFlags builds the form from --set, --file and --rich-text. The
// returned func closes the opened files and must be called once the form
// has been submitted; on error they are already closed.
func formFlags(cmd *cobra.Command) (form *controller.Form, closeFiles func(), err error) {
	form = controller.NewForm()
	var opened []io.Closer
	closeFiles = func() {
		for _, c := range opened {
			c.Close()
		}
		opened = nil
	}
	defer func() {
		if err != nil {
			closeFiles()
		}
	}()

	sets, _ := cmd.Flags().GetStringArray("set")
	for _, kv := range sets {
		k, v, err := splitPair(kv)
		if err != nil {
			return nil, nil, err
		}
		form.Set(k, flagValue(v))
	}

	files, _ := cmd.Flags().GetStringArray("file")
	for _, kv := range files {
		k, path, err := splitPair(kv)
		if err != nil {
			return nil, nil, err
		}
		f, err := openFile(path)
		if err != nil {
			return nil, nil, err
		}
		opened = append(opened, f)
		form.SetFile(k, filepath.Base(path), f)
	}

	rich, _ := cmd.Flags().GetStringArray("rich-text")
	for _, kv := range rich {
		k, v, err := splitPair(kv)
		if err != nil {
			return nil, nil, err
		}
		if strings.HasPrefix(v, "@") {
			raw, err := os.ReadFile(v[1:])
			if err != nil {
				return nil, nil, err
			}
			v = string(raw)
		}
		form.SetRichText(k, v)
	}
	return form, closeFiles, nil
}

// flagValue turns true, false and null into their JSON values. Everything
// else stays a string, the API coerces numbers.
func flagValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return v
}

func init() {
	for _, name := range resources.Names() {
		rootCmd.AddCommand(resourceCmds[name])
	}
}
