package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/app"
	"github.com/roach88/offsync/internal/model"
)

// RecordOptions holds the data flags of create and update.
type RecordOptions struct {
	*RootOptions
	ID   string
	Data string   // JSON object
	Set  []string // key=value pairs, values are strings
}

func (o *RecordOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Data, "data", "", `business fields as a JSON object, e.g. '{"name":"Ada"}'`)
	cmd.Flags().StringArrayVar(&o.Set, "set", nil, "set a string field (key=value, repeatable)")
}

// fields merges --data and --set; --set wins on duplicate keys.
func (o *RecordOptions) fields() (map[string]any, error) {
	fields := map[string]any{}
	if o.Data != "" {
		obj, err := model.DecodeObject([]byte(o.Data))
		if err != nil {
			return nil, fmt.Errorf("--data must be a JSON object: %w", err)
		}
		fields = obj
	}
	for _, kv := range o.Set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set expects key=value, got %q", kv)
		}
		fields[key] = value
	}
	return fields, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <entity-type>",
		Short: "Create a record and queue a CREATE event",
		Long: `Create a record at version 1 and append a CREATE event to the outbox.
When online, a sync cycle is requested right away.

Examples:
  offsync create student --id s1 --set name=Ada
  offsync create grade --data '{"student":"s1","score":5}'`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := opts.fields()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid record data", err)
			}
			if opts.ID != "" {
				fields[model.KeyID] = opts.ID
			}
			return withRecord(cmd, rootOpts, args[0], "create", func(a *app.App, et model.EntityType) (model.Record, error) {
				return a.Facade.Create(cmd.Context(), a.Tenant(), et, fields)
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.ID, "id", "", "record id (a UUID is generated if empty)")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <entity-type> <id>",
		Short: "Merge fields into a record and queue an UPDATE event",
		Long: `Shallow-merge fields into a record, bump its version and append an
UPDATE event carrying the full merged record.

Example:
  offsync update student s1 --set name=Ada --data '{"year":3}'`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := opts.fields()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid record data", err)
			}
			if len(fields) == 0 {
				return NewExitError(ExitCommandError, "nothing to update: pass --data or --set")
			}
			return withRecord(cmd, rootOpts, args[0], "update", func(a *app.App, et model.EntityType) (model.Record, error) {
				return a.Facade.Update(cmd.Context(), a.Tenant(), et, args[1], fields)
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity-type> <id>",
		Short: "Soft-delete a record and queue a DELETE event",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecord(cmd, rootOpts, args[0], "delete", func(a *app.App, et model.EntityType) (model.Record, error) {
				return a.Facade.Delete(cmd.Context(), a.Tenant(), et, args[1])
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity-type> <id>",
		Short: "Show a record, including soft-deleted ones",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecord(cmd, rootOpts, args[0], "get", func(a *app.App, et model.EntityType) (model.Record, error) {
				return a.Facade.Get(cmd.Context(), a.Tenant(), et, args[1])
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var includeDeleted bool

	cmd := &cobra.Command{
		Use:   "list <entity-type>",
		Short: "List the tenant's records of one type",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			if err := requireTenant(a); err != nil {
				return err
			}
			f := rootOpts.formatter(cmd)

			et, err := a.Store.Registry().ParseEntityType(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid entity type", err)
			}
			records, err := a.Facade.List(cmd.Context(), a.Tenant(), et, includeDeleted)
			if err != nil {
				return fail(f, ExitFailure, "list failed", err)
			}

			return f.Success(records, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintf(w, "No %s records.\n", et)
					return
				}
				for _, rec := range records {
					writeRecordLine(w, et, rec)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "all", false, "include soft-deleted records")
	return cmd
}

// withRecord opens the client, resolves the entity type and prints the
// record returned by fn.
func withRecord(cmd *cobra.Command, opts *RootOptions, entity, verb string, fn func(*app.App, model.EntityType) (model.Record, error)) error {
	a, closeApp, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer closeApp()
	if err := requireTenant(a); err != nil {
		return err
	}
	f := opts.formatter(cmd)

	et, err := a.Store.Registry().ParseEntityType(entity)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid entity type", err)
	}

	rec, err := fn(a, et)
	if err != nil {
		return fail(f, ExitFailure, verb+" failed", err)
	}

	return f.Success(rec, func(w io.Writer) {
		writeRecordLine(w, et, rec)
	})
}

// writeRecordLine prints one record as "type/id vN [flags] {data}".
func writeRecordLine(w io.Writer, et model.EntityType, rec model.Record) {
	var flags []string
	if rec.Dirty {
		flags = append(flags, "dirty")
	}
	if rec.Deleted {
		flags = append(flags, "deleted")
	}
	state := ""
	if len(flags) > 0 {
		state = " [" + strings.Join(flags, ",") + "]"
	}
	data, err := model.MarshalCanonical(rec.Data)
	if err != nil {
		data = []byte("{?}")
	}
	fmt.Fprintf(w, "%s/%s v%d%s %s\n", et, rec.ID, rec.Version, state, data)
}
